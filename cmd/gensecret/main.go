// Command gensecret prints fresh signing keys in .env format, ready to be appended to chatauth .env
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const SecretKeyBytesLen = 32

func main() {
	if err := run(os.Stdout, rand.Reader, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, random io.Reader, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	length := fs.IntP("bytes", "b", SecretKeyBytesLen, "Key length in bytes")
	encoding := fs.StringP("encoding", "e", "hex", "Key encoding (hex, base64)")
	separate := fs.Bool("separate-refresh", false, "Also print a distinct REFRESH_SECRET_KEY")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *length < SecretKeyBytesLen {
		return fmt.Errorf("key should be at least %d bytes long", SecretKeyBytesLen)
	}

	var encode func([]byte) string
	switch *encoding {
	case "hex":
		encode = hex.EncodeToString
	case "base64":
		encode = base64.RawURLEncoding.EncodeToString
	default:
		return fmt.Errorf("unknown encoding %q", *encoding)
	}

	names := []string{"SECRET_KEY"}
	if *separate {
		names = append(names, "REFRESH_SECRET_KEY")
	}

	for _, name := range names {
		b := make([]byte, *length)
		if _, err := io.ReadFull(random, b); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", name, encode(b)); err != nil {
			return err
		}
	}
	return nil
}
