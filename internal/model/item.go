package model

import "fmt"

// ItemType is the category tag of a tradeable item. Every place that
// interprets a listing switches over all three categories exhaustively;
// an unknown tag is always an error, never a silent passthrough.
type ItemType string

const (
	ItemDebris        ItemType = "debris"
	ItemUpgradeModule ItemType = "upgrade_module"
	ItemCraftedItem   ItemType = "crafted_item"
)

// ValidateItem checks the category tag and the fields valid for it.
func ValidateItem(t ItemType, name string, quantity int) error {
	if name == "" {
		return fmt.Errorf("item_name is required")
	}
	if quantity <= 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	switch t {
	case ItemDebris:
		// Debris stacks freely.
		return nil
	case ItemUpgradeModule:
		// Modules are installed one at a time and trade as single units.
		if quantity != 1 {
			return fmt.Errorf("upgrade modules trade individually (quantity must be 1)")
		}
		return nil
	case ItemCraftedItem:
		return nil
	default:
		return fmt.Errorf("unknown item_type %q", t)
	}
}

// Stackable reports whether listings of this category may carry quantity > 1.
func (t ItemType) Stackable() (bool, error) {
	switch t {
	case ItemDebris, ItemCraftedItem:
		return true, nil
	case ItemUpgradeModule:
		return false, nil
	default:
		return false, fmt.Errorf("unknown item_type %q", t)
	}
}
