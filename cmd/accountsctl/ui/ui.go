// Package ui renders accountsctl prompts and output.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/redmonkez12/accounts-api/internal/auth"
	"github.com/redmonkez12/accounts-api/internal/user"
)

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

// RunCreateUserForm prompts for every field of in that is still empty.
func RunCreateUserForm(in *auth.RegisterInput) error {
	var fields []huh.Field

	if in.Email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Placeholder("ada@example.com").
			Value(&in.Email).
			Validate(required("email")))
	}
	if in.Username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Description("Letters, digits and @/./+/-/_ only").
			Value(&in.Username).
			Validate(required("username")))
	}
	if in.FirstName == "" {
		fields = append(fields, huh.NewInput().Title("First name").Value(&in.FirstName))
	}
	if in.LastName == "" {
		fields = append(fields, huh.NewInput().Title("Last name").Value(&in.LastName))
	}
	if in.Password == "" {
		fields = append(fields,
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&in.Password).
				Validate(required("password")),
			huh.NewInput().
				Title("Password (again)").
				EchoMode(huh.EchoModePassword).
				Value(&in.PasswordConfirm).
				Validate(required("password confirmation")),
		)
	}

	if len(fields) == 0 {
		return nil
	}

	return huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeCatppuccin()).Run()
}

// Confirm asks a yes/no question; the default answer is no.
func Confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// PrintUser prints a created or updated account.
func PrintUser(w io.Writer, heading string, u *user.User) {
	fmt.Fprintln(w, successStyle.Render(heading))
	fmt.Fprintf(w, "  ID:       %s\n", u.ID)
	fmt.Fprintf(w, "  Email:    %s\n", u.Email)
	fmt.Fprintf(w, "  Username: %s\n", u.Username)
	if name := u.FullName(); name != "" {
		fmt.Fprintf(w, "  Name:     %s\n", name)
	}
	fmt.Fprintf(w, "  Active:   %t\n", u.IsActive)
	fmt.Fprintln(w)
}

// PrintTitle prints a section heading.
func PrintTitle(w io.Writer, msg string) {
	fmt.Fprintln(w, titleStyle.Render(msg))
}

// PrintSuccess prints a one-line success message.
func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render(msg))
}

// PrintInfo prints secondary information.
func PrintInfo(w io.Writer, msg string) {
	fmt.Fprintln(w, subtleStyle.Render(msg))
}

// PrintError prints an error. Field validation errors are listed per field.
func PrintError(w io.Writer, err error) {
	var v *auth.ValidationError
	if !errors.As(err, &v) {
		fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))
		return
	}

	fmt.Fprintln(w, errorStyle.Render("Validation failed:"))
	for _, fe := range v.Errors {
		fmt.Fprintf(w, "  %s %s (%s)\n", fieldStyle.Render(fe.Field+":"), fe.Message, fe.Code)
	}
}
