// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrEmpty is returned when the input holds no passphrase.
var ErrEmpty = errors.New("secret: passphrase is empty")

// maxLine bounds a passphrase read from a pipe.
const maxLine = 4096

// ReadPassphrase reads a passphrase into a Buffer. When in is a
// terminal, prompt is written to promptTo and the passphrase is read
// without echo. Otherwise the first line of in is used. Trailing CR/LF
// is stripped; other whitespace is part of the passphrase.
func ReadPassphrase(in io.Reader, promptTo io.Writer, prompt string) (*Buffer, error) {
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		fmt.Fprint(promptTo, prompt)
		data, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(promptTo)
		if err != nil {
			return nil, fmt.Errorf("secret: reading passphrase: %w", err)
		}
		return fromLine(data)
	}
	return ReadLine(in)
}

// ReadLine reads the first line of r into a Buffer.
func ReadLine(r io.Reader) (*Buffer, error) {
	reader := bufio.NewReaderSize(r, maxLine)
	line, err := reader.ReadSlice('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		Zero(line)
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("secret: passphrase line exceeds %d bytes", maxLine)
		}
		return nil, fmt.Errorf("secret: reading passphrase: %w", err)
	}
	// line aliases the reader's buffer; zero the whole buffer on the
	// way out, not just the line.
	defer Zero(line[:cap(line)])
	return fromLine(line)
}

func fromLine(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		Zero(data)
		return nil, ErrEmpty
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	return buffer, err
}
