package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// StorageBackend defines the interface for credential storage
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	// Profiles lists the profiles with stored credentials, sorted.
	Profiles() ([]string, error)
	Name() string
}

// ErrCredentialsNotFound is returned by Load when a profile has no stored credentials
var ErrCredentialsNotFound = fmt.Errorf("credentials not found")

// KeyringStorage keeps credentials in the system keyring. The keyring cannot
// be enumerated, so saved profile names are also indexed in profiles.json.
type KeyringStorage struct {
	service string
	fs      afero.Fs
	index   string
}

// NewKeyringStorage creates a keyring storage backend indexed under baseDir
func NewKeyringStorage(service string, fs afero.Fs, baseDir string) *KeyringStorage {
	return &KeyringStorage{service: service, fs: fs, index: path.Join(baseDir, "profiles.json")}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	if err := saveToKeyring(s.service, profile, string(data)); err != nil {
		return err
	}
	return s.updateIndex(func(profiles []string) []string {
		if slices.Contains(profiles, profile) {
			return profiles
		}
		return append(profiles, profile)
	})
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := loadFromKeyring(s.service, profile)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	if err := deleteFromKeyring(s.service, profile); err != nil {
		return err
	}
	return s.updateIndex(func(profiles []string) []string {
		return slices.DeleteFunc(profiles, func(p string) bool { return p == profile })
	})
}

func (s *KeyringStorage) Profiles() ([]string, error) {
	data, err := afero.ReadFile(s.fs, s.index)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var profiles []string
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.index, err)
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (s *KeyringStorage) updateIndex(edit func([]string) []string) error {
	profiles, err := s.Profiles()
	if err != nil {
		return err
	}
	data, err := json.Marshal(edit(profiles))
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(s.index), 0700); err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, s.index, data, 0600); err != nil {
		return fmt.Errorf("failed to update profile index: %w", err)
	}
	return nil
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// fileStore keeps one credential file per profile under <baseDir>/credentials
type fileStore struct {
	fs      afero.Fs
	baseDir string
	ext     string
}

func (f fileStore) path(profile string) string {
	return path.Join(f.baseDir, "credentials", profile+f.ext)
}

func (f fileStore) write(profile string, data []byte) error {
	credFile := f.path(profile)
	if err := f.fs.MkdirAll(path.Dir(credFile), 0700); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, credFile, data, 0600)
}

func (f fileStore) read(profile string) ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.path(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for profile '%s'", ErrCredentialsNotFound, profile)
		}
		return nil, err
	}
	return data, nil
}

func (f fileStore) remove(profile string) error {
	if err := f.fs.Remove(f.path(profile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f fileStore) profiles() ([]string, error) {
	entries, err := afero.ReadDir(f.fs, path.Join(f.baseDir, "credentials"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	profiles := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), f.ext) {
			continue
		}
		profiles = append(profiles, strings.TrimSuffix(entry.Name(), f.ext))
	}
	sort.Strings(profiles)
	return profiles, nil
}

// EncryptedFileStorage stores credentials in AES-GCM encrypted files. The
// profile name is bound as additional data, so a file copied to another
// profile's name fails to open.
type EncryptedFileStorage struct {
	files fileStore
	aead  cipher.AEAD
}

// NewEncryptedFileStorage creates an encrypted file storage backend
func NewEncryptedFileStorage(fs afero.Fs, baseDir string) (*EncryptedFileStorage, error) {
	key, err := getOrCreateEncryptionKey(fs, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStorage{
		files: fileStore{fs: fs, baseDir: baseDir, ext: ".enc"},
		aead:  aead,
	}, nil
}

func (s *EncryptedFileStorage) Save(profile string, data []byte) error {
	sealed, err := s.seal(profile, data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return s.files.write(profile, sealed)
}

func (s *EncryptedFileStorage) Load(profile string) ([]byte, error) {
	sealed, err := s.files.read(profile)
	if err != nil {
		return nil, err
	}
	return s.open(profile, sealed)
}

func (s *EncryptedFileStorage) Delete(profile string) error {
	return s.files.remove(profile)
}

func (s *EncryptedFileStorage) Profiles() ([]string, error) {
	return s.files.profiles()
}

func (s *EncryptedFileStorage) Name() string {
	return "encrypted-file"
}

// seal returns nonce || ciphertext
func (s *EncryptedFileStorage) seal(profile string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(profile)), nil
}

func (s *EncryptedFileStorage) open(profile string, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("credentials file for profile '%s' is truncated", profile)
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(profile))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for profile '%s': %w", profile, err)
	}
	return plaintext, nil
}

// PlainFileStorage stores credentials in plain JSON files (development only)
type PlainFileStorage struct {
	files fileStore
}

// NewPlainFileStorage creates a plain file storage backend
func NewPlainFileStorage(fs afero.Fs, baseDir string) *PlainFileStorage {
	return &PlainFileStorage{files: fileStore{fs: fs, baseDir: baseDir, ext: ".json"}}
}

func (s *PlainFileStorage) Save(profile string, data []byte) error {
	return s.files.write(profile, data)
}

func (s *PlainFileStorage) Load(profile string) ([]byte, error) {
	return s.files.read(profile)
}

func (s *PlainFileStorage) Delete(profile string) error {
	return s.files.remove(profile)
}

func (s *PlainFileStorage) Profiles() ([]string, error) {
	return s.files.profiles()
}

func (s *PlainFileStorage) Name() string {
	return "plain-file"
}

// getOrCreateEncryptionKey loads the 32-byte key from <baseDir>/.keyfile, creating it on first use
func getOrCreateEncryptionKey(fs afero.Fs, baseDir string) ([]byte, error) {
	keyFile := path.Join(baseDir, ".keyfile")

	if data, err := afero.ReadFile(fs, keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := fs.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := afero.WriteFile(fs, keyFile, []byte(encoded), 0600); err != nil {
		return nil, err
	}

	return key, nil
}
