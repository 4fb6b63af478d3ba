package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// PromptSelect displays numbered options and returns the selected index
// Returns -1 if cancelled (user enters "0" or empty)
func PromptSelect(message string, options []string) int {
	return promptSelect(os.Stdin, os.Stdout, message, options)
}

func promptSelect(in io.Reader, out io.Writer, message string, options []string) int {
	if len(options) == 0 {
		return -1
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, message)
	for i, opt := range options {
		fmt.Fprintf(out, "  [%d] %s\n", i+1, opt)
	}
	fmt.Fprintf(out, "  [0] Skip\n")
	fmt.Fprintln(out)
	fmt.Fprint(out, "? Select: ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		return -1
	}

	input = strings.TrimSpace(input)
	if input == "" || input == "0" {
		return -1
	}

	choice, err := strconv.Atoi(input)
	if err != nil || choice < 1 || choice > len(options) {
		return -1
	}

	return choice - 1
}

// Confirm asks a yes/no question. In --yes mode it returns true without
// asking; without a terminal it returns false.
func Confirm(message string) bool {
	if IsYesMode() {
		return true
	}
	if !IsInteractive() {
		return false
	}
	return confirm(os.Stdin, os.Stdout, message)
}

func confirm(in io.Reader, out io.Writer, message string) bool {
	fmt.Fprintf(out, "? %s [y/N]: ", message)
	input, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// PromptPassword reads a secret from the terminal without echo.
func PromptPassword(message string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for a password without a terminal")
	}
	fmt.Print(message)
	data, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(data), nil
}

// IsInteractive returns true if stdin is a terminal and --yes flag is not set
func IsInteractive() bool {
	if IsYesMode() {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}
