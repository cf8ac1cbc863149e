// Package secrets implements the per-entry encrypted secret store: device
// mode derives its key from a random key file under archon_home, portable
// mode derives it from an operator passphrase via scrypt. Adapted from the
// teacher's pkg/credentials/store.go AES-256-GCM encrypt/decrypt pair,
// generalized from a SQL-backed credential row to a project-scoped
// name→ciphertext map persisted through project.StateIO, and from a single
// fixed encryption key to the two-mode key derivation spec.md requires.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/CustodyZero/archon/pkg/project"
)

const (
	deviceKeyFileName = "device.key"
	deviceKeySize     = 32 // AES-256

	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptSaltSz = 32

	gcmTagSize = 16
)

// Store modes.
const (
	ModeDevice   = "device"
	ModePortable = "portable"
)

var (
	ErrTampered           = errors.New("secrets: ciphertext failed authentication (tampered or wrong key)")
	ErrNotFound           = errors.New("secrets: entry not found")
	ErrEmptyName          = errors.New("secrets: entry name must not be empty")
	ErrUnknownMode        = errors.New("secrets: unknown store mode")
	ErrPassphraseRequired = errors.New("secrets: portable mode requires a passphrase")
)

// entry is the on-disk encrypted representation of one secret value: a
// 12-byte GCM IV, the ciphertext, and the 16-byte auth tag, each base64.
type entry struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// secretsFile is the whole secrets.enc.json document. Salt is present only
// in portable mode (the scrypt salt, base64).
type secretsFile struct {
	Mode    string           `json:"mode"`
	Salt    string           `json:"salt,omitempty"`
	Entries map[string]entry `json:"entries"`
}

// Store is a project-scoped, per-entry AES-256-GCM encrypted secret store.
type Store struct {
	mu      sync.Mutex
	io      project.StateIO
	relPath string
	key     []byte
	mode    string
	salt    string // base64 scrypt salt, portable mode only
}

// DeviceKey loads the device key at <archonHome>/device.key, generating a
// fresh random 32-byte key on first use. The file is written with mode 0600
// and is never rotated by this function.
func DeviceKey(archonHome string) ([]byte, error) {
	path := filepath.Join(archonHome, deviceKeyFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != deviceKeySize {
			return nil, fmt.Errorf("secrets: device key file %q has unexpected length %d", path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secrets: reading device key: %w", err)
	}

	key := make([]byte, deviceKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("secrets: generating device key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("secrets: creating archon_home: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("secrets: writing device key: %w", err)
	}
	return key, nil
}

// NewPortableSalt returns a fresh random salt for portable-mode key
// derivation. Callers persist it alongside the encrypted secrets so the
// same passphrase reproduces the same key on a different device.
func NewPortableSalt() ([]byte, error) {
	salt := make([]byte, scryptSaltSz)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("secrets: generating portable salt: %w", err)
	}
	return salt, nil
}

// PortableKey derives a 32-byte AES-256 key from passphrase and salt via
// scrypt (N=16384, r=8, p=1) — deliberately slow, so an attacker with the
// encrypted blob cannot brute-force weak passphrases cheaply.
func PortableKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, deviceKeySize)
}

// New builds a device-mode Store with an explicit key (from DeviceKey, or
// supplied directly in tests). Callers that need the persisted mode honored
// use Open instead.
func New(io project.StateIO, relPath string, key []byte) (*Store, error) {
	if len(key) != deviceKeySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", deviceKeySize, len(key))
	}
	return &Store{io: io, relPath: relPath, key: key, mode: ModeDevice}, nil
}

// Open resolves the store keyed according to the mode persisted in the
// file: device when the file is absent or carries no mode, portable when
// the file says so. passphrase is consulted only in portable mode.
func Open(stateIO project.StateIO, relPath, archonHome, passphrase string) (*Store, error) {
	var f secretsFile
	if err := stateIO.ReadJSON(relPath, &f); err != nil {
		return nil, err
	}
	mode := f.Mode
	if mode == "" {
		mode = ModeDevice
	}

	switch mode {
	case ModeDevice:
		key, err := DeviceKey(archonHome)
		if err != nil {
			return nil, err
		}
		return &Store{io: stateIO, relPath: relPath, key: key, mode: ModeDevice}, nil
	case ModePortable:
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		salt, err := base64.StdEncoding.DecodeString(f.Salt)
		if err != nil {
			return nil, fmt.Errorf("secrets: decoding portable salt: %w", err)
		}
		key, err := PortableKey(passphrase, salt)
		if err != nil {
			return nil, err
		}
		return &Store{io: stateIO, relPath: relPath, key: key, mode: ModePortable, salt: f.Salt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Mode reports which key-derivation mode this store was opened under.
func (s *Store) Mode() string {
	return s.mode
}

// SetMode re-keys every entry under newMode's key and persists the switch
// atomically as one file write. passphrase is the portable-mode passphrase:
// the current one when the file is already portable (needed to decrypt),
// the new one when switching to portable (needed to derive the new key).
func SetMode(stateIO project.StateIO, relPath, archonHome, newMode, passphrase string) error {
	cur, err := Open(stateIO, relPath, archonHome, passphrase)
	if err != nil {
		return err
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()
	f, err := cur.load()
	if err != nil {
		return err
	}

	// Decrypt everything under the current key before any of it is
	// re-encrypted — a wrong passphrase fails here, leaving the file intact.
	plaintexts := make(map[string]string, len(f.Entries))
	for name, e := range f.Entries {
		pt, err := cur.openEntry(e)
		if err != nil {
			return fmt.Errorf("secrets: re-keying %q: %w", name, err)
		}
		plaintexts[name] = pt
	}

	next := secretsFile{Mode: newMode, Entries: make(map[string]entry, len(plaintexts))}
	var newKey []byte
	switch newMode {
	case ModeDevice:
		newKey, err = DeviceKey(archonHome)
		if err != nil {
			return err
		}
	case ModePortable:
		if passphrase == "" {
			return ErrPassphraseRequired
		}
		salt, err := NewPortableSalt()
		if err != nil {
			return err
		}
		next.Salt = base64.StdEncoding.EncodeToString(salt)
		newKey, err = PortableKey(passphrase, salt)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, newMode)
	}

	nextStore := &Store{io: stateIO, relPath: relPath, key: newKey, mode: newMode, salt: next.Salt}
	for name, pt := range plaintexts {
		e, err := nextStore.sealEntry(pt)
		if err != nil {
			return err
		}
		next.Entries[name] = e
	}
	return stateIO.WriteJSON(relPath, next)
}

func (s *Store) load() (secretsFile, error) {
	var f secretsFile
	if err := s.io.ReadJSON(s.relPath, &f); err != nil {
		return secretsFile{}, err
	}
	if f.Entries == nil {
		f.Entries = make(map[string]entry)
	}
	// A fresh file inherits the store's mode; an existing file keeps its own.
	if f.Mode == "" {
		f.Mode = s.mode
		f.Salt = s.salt
	}
	return f, nil
}

// Put encrypts and stores plaintext under name, overwriting any existing
// entry. A fresh random 12-byte IV is generated per entry.
func (s *Store) Put(name, plaintext string) error {
	if name == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	e, err := s.sealEntry(plaintext)
	if err != nil {
		return err
	}
	f.Entries[name] = e
	return s.io.WriteJSON(s.relPath, f)
}

// Get decrypts and returns the secret stored under name.
func (s *Store) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", err
	}
	e, ok := f.Entries[name]
	if !ok {
		return "", ErrNotFound
	}
	return s.openEntry(e)
}

// Delete removes a secret by name. Deleting a name that does not exist is a
// no-op, not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	delete(f.Entries, name)
	return s.io.WriteJSON(s.relPath, f)
}

// sealEntry encrypts plaintext and splits the GCM output into the
// on-disk {iv, ciphertext, tag} triple.
func (s *Store) sealEntry(plaintext string) (entry, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return entry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return entry{}, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return entry{}, fmt.Errorf("secrets: generating iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	return entry{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// openEntry rejoins the {iv, ciphertext, tag} triple and decrypts it.
func (s *Store) openEntry(e entry) (string, error) {
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil {
		return "", fmt.Errorf("secrets: decoding iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: decoding ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(e.Tag)
	if err != nil {
		return "", fmt.Errorf("secrets: decoding tag: %w", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcmTagSize {
		return "", ErrTampered
	}
	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrTampered
	}
	return string(plaintext), nil
}
