package internal

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DefaultPasswords are tried on every encrypted container before any user
// supplied password. "changeit" is the JDK cacerts default.
func DefaultPasswords() []string {
	return []string{"", "changeit", "password", "keypassword"}
}

// LoadPasswordsFromFile loads passwords from a file, one password per line
func LoadPasswordsFromFile(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var passwords []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			passwords = append(passwords, pwd)
		}
	}
	return passwords, scanner.Err()
}

// ProcessPasswords merges the default passwords, passwordList and the
// contents of passwordFile, removing duplicates while preserving order.
func ProcessPasswords(passwordList []string, passwordFile string) ([]string, error) {
	passwords := DefaultPasswords()
	passwords = append(passwords, passwordList...)

	if passwordFile != "" {
		filePasswords, err := LoadPasswordsFromFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("loading passwords from file: %w", err)
		}
		passwords = append(passwords, filePasswords...)
	}

	seen := make(map[string]bool)
	var uniquePasswords []string
	for _, pwd := range passwords {
		if !seen[pwd] {
			seen[pwd] = true
			uniquePasswords = append(uniquePasswords, pwd)
		}
	}
	return uniquePasswords, nil
}
