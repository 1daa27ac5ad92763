package credentials

import (
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/tablevox/ordervoice-core/core/orders"
)

// ToolDefinition is one function the remote peer may call, as carried in
// the mint request. Parameters is a JSON schema reflected from the argument
// struct.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type addItemArgs struct {
	Item      string   `json:"item" jsonschema:"description=Menu item the guest asked for, in their words"`
	Quantity  int      `json:"quantity,omitempty" jsonschema:"description=How many, defaults to one"`
	Modifiers []string `json:"modifiers,omitempty" jsonschema:"description=Requested changes such as 'no onions'"`
}

type removeItemArgs struct {
	Item string `json:"item" jsonschema:"description=Menu item to take off the order"`
}

type confirmOrderArgs struct{}

// OrderingTools returns the tool set baked into every mint request. The
// names line up with what the order translator expects back.
func OrderingTools() []ToolDefinition {
	return []ToolDefinition{
		reflectTool(orders.FunctionAddItem, "Add a menu item to the guest's order", addItemArgs{}),
		reflectTool(orders.FunctionRemoveItem, "Remove a menu item from the guest's order", removeItemArgs{}),
		reflectTool(orders.FunctionConfirmOrder, "Confirm the order as complete and read it back", confirmOrderArgs{}),
	}
}

func reflectTool(name, description string, args any) ToolDefinition {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  reflector.ReflectFromType(reflect.TypeOf(args)),
	}
}
