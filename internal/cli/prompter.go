package cli

// Prompter asks the user to pick a profile and to confirm a switch.
type Prompter interface {
	Select(label string, items []string, defaultValue string) (int, string, error)
	Confirm(label string, defaultYes bool) (bool, error)
}
