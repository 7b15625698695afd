package cmdutil

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/term"
)

// ResolvePin returns a kong.Resolver that interactively prompts for required
// flags of type "password" that were not given on the command line; optional
// password flags are left unset. Terminal echo is disabled for the duration
// of the read.
func ResolvePin(confirm bool) kong.Resolver {
	return kong.ResolverFunc(func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		if flag.Tag.Type != "password" || !flag.Required || flag.Value.Set && !flag.Value.Target.IsZero() {
			return nil, nil
		}

		if flag.Target.Kind() != reflect.String {
			return nil, fmt.Errorf(`'password' type must be applied to a string not %s`, flag.Target.Type())
		}

		for {
			fmt.Printf("Enter %s: ", strings.ToTitle(flag.Name))
			raw, err := term.ReadPassword(0)
			fmt.Print("\n")
			if err != nil {
				return "", fmt.Errorf("PIN could not be read: %v", err)
			}
			pin := strings.TrimSpace(string(raw))
			if pin == "" {
				return nil, nil
			}

			if confirm {
				fmt.Printf("Re-enter %s: ", strings.ToTitle(flag.Name))
				raw2, err2 := term.ReadPassword(0)
				fmt.Print("\n\n")
				if err2 != nil {
					return "", fmt.Errorf("PIN could not be read: %v", err2)
				}
				if pin != strings.TrimSpace(string(raw2)) {
					fmt.Println("PINs do not match. Please try again.")
					continue
				}
			}

			return pin, nil
		}
	})
}
