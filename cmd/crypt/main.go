// Command crypt seals and unseals deployment requests the way agentdeployd stores them,
// one hex encoded value per line on standard input.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/postqode/agentdeploy/pkg/crypto"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	shouldEncrypt = flag.Bool("encrypt", false, "seal each input line")
	shouldDecrypt = flag.Bool("decrypt", false, "unseal each input line")
	encryptionKey = flag.String("key", os.Getenv("AGENTDEPLOYD_DATABASE_ENCRYPTION_KEY"), "database encryption key, hex encoded")
)

func run() error {
	failures := 0

	flag.Parse()

	if *shouldEncrypt == *shouldDecrypt {
		return fmt.Errorf("specify exactly one of --encrypt and --decrypt")
	}
	if len(*encryptionKey) == 0 {
		return fmt.Errorf("encryption key not provided; use --key or AGENTDEPLOYD_DATABASE_ENCRYPTION_KEY")
	}
	key, err := crypto.KeyFromHexString(*encryptionKey)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\n\r")
		if *shouldDecrypt {
			decrypted, err := crypto.DecryptHex(text, key)
			if err == nil {
				fmt.Println(string(decrypted))
			} else {
				log.Errorf("decryption failed: %s", err)
				failures++
			}
		} else {
			encrypted, err := crypto.EncryptHex([]byte(text), key)
			if err == nil {
				fmt.Println(encrypted)
			} else {
				log.Errorf("encryption failed: %s", err)
				failures++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if failures == 0 {
		return nil
	}

	return fmt.Errorf("%d errors", failures)
}

func main() {
	err := run()
	if err != nil {
		log.Errorf("fatal: %s", err)
		os.Exit(1)
	}
}
