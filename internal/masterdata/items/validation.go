package items

import (
	"errors"
	"fmt"
)

func validate(it Item) error {
	if it.Code == "" {
		return errors.New("item code is required")
	}
	if it.Name == "" {
		return errors.New("item name is required")
	}
	if !it.Tracking.Valid() {
		return fmt.Errorf("unknown tracking mode %q", it.Tracking)
	}
	return nil
}
