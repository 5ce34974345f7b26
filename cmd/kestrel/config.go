package main

import (
	"encoding/json"
	"fmt"

	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/settings"
)

// runConfigGet handles `kestrel config get <key>`.
func runConfigGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kestrel config get <key>")
	}

	s, err := settings.Load()
	if err != nil {
		return err
	}
	ctx := newContext(s)
	manager := config.NewManager(s.ConfigPath())

	value, ok, err := manager.Value(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not set", args[0])
	}

	if str, isString := value.(string); isString {
		fmt.Println(str)
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// runConfigSet handles `kestrel config set <key> <value>`. Values that
// parse as JSON are stored typed; everything else is stored as a string.
func runConfigSet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: kestrel config set <key> <value>")
	}

	s, err := settings.Load()
	if err != nil {
		return err
	}
	ctx := newContext(s)
	manager := config.NewManager(s.ConfigPath())

	var value any = args[1]
	var parsed any
	if err := json.Unmarshal([]byte(args[1]), &parsed); err == nil {
		value = parsed
	}

	if err := manager.SetValue(ctx, args[0], value); err != nil {
		return err
	}
	fmt.Printf("Set %s\n", args[0])
	return nil
}

// runConfigUnset handles `kestrel config unset <key>`.
func runConfigUnset(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kestrel config unset <key>")
	}

	s, err := settings.Load()
	if err != nil {
		return err
	}
	ctx := newContext(s)
	manager := config.NewManager(s.ConfigPath())

	if err := manager.Unset(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Unset %s\n", args[0])
	return nil
}
