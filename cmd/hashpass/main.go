package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rl1809/pos-ledger/internal/core/service"
)

// Reads a password from stdin and prints its bcrypt hash. The hash is only
// useful for inserting a row into the MySQL users table by hand; with either
// driver the usual bootstrap is auth.admin_user and auth.admin_password,
// which hash the password at startup.
func main() {
	fmt.Fprint(os.Stderr, "Password: ")
	if err := run(os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
