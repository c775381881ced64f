// Package bidder is the client side of an encrypted auction: it manages the
// key material, encrypts bids into requests and decrypts results.
package bidder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// Key file names inside a keystore directory.
const (
	SecretKeyFile     = "secret.key"
	PublicKeyFile     = "public.key"
	EvaluationKeyFile = "evaluation.key"
)

// ErrKeyNotFound is returned when a keystore has no file for the requested key.
var ErrKeyNotFound = errors.New("key not found in keystore")

// Keystore keeps key blobs as files in one directory. Files are written with
// mode 0600 since the secret key decrypts every bid of every round it served.
type Keystore struct {
	dir string
}

// NewKeystore opens dir as a keystore, creating it if needed.
func NewKeystore(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keystore %s: %w", dir, err)
	}
	return &Keystore{dir: dir}, nil
}

// Dir returns the keystore directory.
func (k *Keystore) Dir() string { return k.dir }

// Save writes every non-nil key.
func (k *Keystore) Save(sk *fhe.SecretKey, pk *fhe.PublicKey, ek *fhe.EvaluationKey) error {
	type marshaler interface{ MarshalBinary() ([]byte, error) }
	files := []struct {
		name string
		key  marshaler
		set  bool
	}{
		{SecretKeyFile, sk, sk != nil},
		{PublicKeyFile, pk, pk != nil},
		{EvaluationKeyFile, ek, ek != nil},
	}
	for _, f := range files {
		if !f.set {
			continue
		}
		data, err := f.key.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		if err := os.WriteFile(k.path(f.name), data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// LoadSecretKey reads the secret key.
func (k *Keystore) LoadSecretKey() (*fhe.SecretKey, error) {
	data, err := k.read(SecretKeyFile)
	if err != nil {
		return nil, err
	}
	sk, err := fhe.UnmarshalSecretKey(data)
	if err != nil {
		return nil, core.NewSerializationError(k.path(SecretKeyFile), err)
	}
	return sk, nil
}

// LoadPublicKey reads the public encryption key.
func (k *Keystore) LoadPublicKey() (*fhe.PublicKey, error) {
	data, err := k.read(PublicKeyFile)
	if err != nil {
		return nil, err
	}
	pk, err := fhe.UnmarshalPublicKey(data)
	if err != nil {
		return nil, core.NewSerializationError(k.path(PublicKeyFile), err)
	}
	return pk, nil
}

// LoadEvaluationKey reads the evaluation key.
func (k *Keystore) LoadEvaluationKey() (*fhe.EvaluationKey, error) {
	data, err := k.read(EvaluationKeyFile)
	if err != nil {
		return nil, err
	}
	ek, err := fhe.UnmarshalEvaluationKey(data)
	if err != nil {
		return nil, core.NewSerializationError(k.path(EvaluationKeyFile), err)
	}
	return ek, nil
}

// EvaluationKeyBlob returns the stored evaluation key in its transport form,
// without decoding it.
func (k *Keystore) EvaluationKeyBlob() (auctionapi.KeyBlob, error) {
	data, err := k.read(EvaluationKeyFile)
	if err != nil {
		return "", err
	}
	return auctionapi.EncodeKeyBlob(data)
}

// Encryptor returns an encryptor backed by the public key, falling back to
// the secret key when the keystore holds no public key.
func (k *Keystore) Encryptor() (*fhe.Encryptor, fhe.Parameters, error) {
	pk, err := k.LoadPublicKey()
	if err == nil {
		return fhe.NewPublicKeyEncryptor(pk), pk.Parameters(), nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, fhe.Parameters{}, err
	}
	sk, err := k.LoadSecretKey()
	if err != nil {
		return nil, fhe.Parameters{}, err
	}
	return fhe.NewSecretKeyEncryptor(sk), sk.Parameters(), nil
}

func (k *Keystore) path(name string) string {
	return filepath.Join(k.dir, name)
}

func (k *Keystore) read(name string) ([]byte, error) {
	data, err := os.ReadFile(k.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, k.path(name))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", k.path(name), err)
	}
	return data, nil
}
