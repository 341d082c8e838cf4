// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed decrypts age-encrypted token files so a Jupyter server
// token never has to sit on disk in plaintext. Files may be binary age
// output or ASCII-armored (`age -a`). Decrypted plaintext and parsed
// identities are returned in [secret.Buffer] values.
package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/scribe/lib/secret"
)

// Encrypt seals plaintext to the given age recipients (age1...).
// The output is ASCII-armored so it survives copy and paste.
func Encrypt(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	armorWriter := armor.NewWriter(&output)
	writer, err := age.Encrypt(armorWriter, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

// DecryptFile decrypts the sealed file at path with the identities in
// identityPath (an age identity file; comment lines are allowed). The
// plaintext is trimmed of surrounding whitespace.
func DecryptFile(path, identityPath string) (*secret.Buffer, error) {
	identityBuffer, err := secret.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer identityBuffer.Close()

	identities, err := age.ParseIdentities(strings.NewReader(identityBuffer.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", identityPath, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return decrypt(file, identities)
}

func decrypt(source io.Reader, identities []age.Identity) (*secret.Buffer, error) {
	buffered := bufio.NewReader(source)
	var input io.Reader = buffered
	if peek, _ := buffered.Peek(len(armor.Header)); string(peek) == armor.Header {
		input = armor.NewReader(buffered)
	}

	reader, err := age.Decrypt(input, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	defer secret.Zero(plaintext)

	trimmed := bytes.TrimSpace(plaintext)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("sealed file decrypts to an empty token")
	}
	return secret.NewFromBytes(trimmed)
}
