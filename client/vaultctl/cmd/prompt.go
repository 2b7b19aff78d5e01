package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdinReader = bufio.NewReader(os.Stdin)

// readSecret prompts for a value without echoing it when stdin is a terminal.
// Piped input is read line by line.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(secret), nil
	}
	return readLine()
}

// readNewSecret asks twice and fails if the answers differ.
func readNewSecret(prompt string) (string, error) {
	first, err := readSecret(prompt)
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("value cannot be empty")
	}
	second, err := readSecret("Repeat: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("values do not match")
	}
	return first, nil
}

func readValue(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	return readLine()
}

func readLine() (string, error) {
	line, err := stdinReader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
