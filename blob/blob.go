// blob.go - Attachment padding, encryption and upload.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package blob prepares attachments for upload to a file server.
package blob

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swarmcourier/content"
)

const (
	// KeySize is the size of an attachment key.  The first half keys the
	// AEAD, the second half is bound in as associated data.
	KeySize = 64

	// MinPaddedSize is the smallest size an attachment is padded to.
	MinPaddedSize = 541

	paddingBase = 1.05
)

var (
	// ErrDigestMismatch means a downloaded attachment was tampered with.
	ErrDigestMismatch = errors.New("blob: digest mismatch")

	// ErrTruncated means a ciphertext is too short to be an attachment.
	ErrTruncated = errors.New("blob: truncated ciphertext")
)

// PaddedSize returns the size an attachment of n bytes is padded to.  Sizes
// are rounded up to a power of 1.05 so that the upload size leaks only a
// coarse bucket.
func PaddedSize(n int) int {
	if n <= 0 {
		return MinPaddedSize
	}
	exp := math.Ceil(math.Log(float64(n)) / math.Log(paddingBase))
	sz := int(math.Floor(math.Pow(paddingBase, exp)))
	if sz < n {
		sz = n
	}
	if sz < MinPaddedSize {
		sz = MinPaddedSize
	}
	return sz
}

// NewKey returns a fresh attachment key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt pads plaintext and seals it under key.  It returns the ciphertext
// and its digest.
func Encrypt(key, plaintext []byte) ([]byte, []byte, error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("blob: invalid key size %d", len(key))
	}
	aead, err := chacha20poly1305.NewX(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, nil, err
	}

	padded := make([]byte, PaddedSize(len(plaintext)))
	copy(padded, plaintext)

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(padded)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, nil, err
	}
	out = aead.Seal(out, out[:aead.NonceSize()], padded, key[chacha20poly1305.KeySize:])
	digest := hash.Sum256(out)
	return out, digest[:], nil
}

// Decrypt verifies digest, opens ciphertext and strips the padding using
// the plaintext size carried in the attachment pointer.
func Decrypt(key, digest, ciphertext []byte, size uint32) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("blob: invalid key size %d", len(key))
	}
	d := hash.Sum256(ciphertext)
	if subtle.ConstantTimeCompare(d[:], digest) != 1 {
		return nil, ErrDigestMismatch
	}
	aead, err := chacha20poly1305.NewX(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrTruncated
	}
	nonce, box := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, box, key[chacha20poly1305.KeySize:])
	if err != nil {
		return nil, err
	}
	if int(size) > len(pt) {
		return nil, ErrTruncated
	}
	return pt[:size], nil
}

// Attachment is an attachment waiting to be uploaded.
type Attachment struct {
	Data        []byte
	ContentType string
	FileName    string
	Caption     string
}

// FileServer stores uploaded blobs.
type FileServer interface {
	Upload(ctx context.Context, server string, data []byte) (id uint64, url string, err error)
}

// Uploader uploads attachments and builds the pointers that reference
// them.
type Uploader struct {
	files  FileServer
	server string
	log    *logging.Logger

	onUpload func(int)
}

// NewUploader returns an Uploader using the default file server.  onUpload,
// if set, is called with the size of every successful upload.
func NewUploader(files FileServer, server string, onUpload func(int), log *logging.Logger) *Uploader {
	return &Uploader{
		files:    files,
		server:   server,
		log:      log,
		onUpload: onUpload,
	}
}

// Upload uploads a.  When server is empty the default file server is used
// and the attachment is encrypted.  Attachments for a public channel go to
// that channel's server in the clear.
func (u *Uploader) Upload(ctx context.Context, a *Attachment, server string) (*content.AttachmentPointer, error) {
	ptr := &content.AttachmentPointer{
		ContentType: a.ContentType,
		Size:        uint32(len(a.Data)),
		FileName:    a.FileName,
		Caption:     a.Caption,
	}

	data := a.Data
	if server == "" {
		server = u.server
		key, err := NewKey()
		if err != nil {
			return nil, err
		}
		if data, ptr.Digest, err = Encrypt(key, a.Data); err != nil {
			return nil, err
		}
		ptr.Key = key
	}

	id, url, err := u.files.Upload(ctx, server, data)
	if err != nil {
		return nil, fmt.Errorf("blob: upload to %s failed: %w", server, err)
	}
	if url == "" {
		return nil, fmt.Errorf("blob: %s returned no url for upload %d", server, id)
	}
	ptr.ID, ptr.URL = id, url

	u.log.Debugf("Uploaded attachment %d (%d bytes) to %s", id, len(data), server)
	if u.onUpload != nil {
		u.onUpload(len(data))
	}
	return ptr, nil
}
