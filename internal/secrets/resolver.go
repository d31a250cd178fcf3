// Package secrets resolves configuration values that are stored encrypted
// under a KMS key.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Prefix marks a value as base64 KMS ciphertext.
const Prefix = "kms:"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKMSDisabled      = errors.New("value is KMS encrypted but KMS is disabled")
)

// Decrypter is the slice of the KMS API the resolver uses.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type Resolver struct {
	kms   Decrypter
	cache sync.Map
}

// NewResolver wraps client; a nil client leaves plain values working and
// rejects encrypted ones.
func NewResolver(client Decrypter) *Resolver {
	return &Resolver{kms: client}
}

// NewKMSResolver builds a resolver on the default AWS credential chain.
func NewKMSResolver(ctx context.Context, region string) (*Resolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewResolver(kms.NewFromConfig(cfg)), nil
}

// Resolve returns value unchanged unless it carries Prefix, in which case
// the ciphertext is decrypted once and cached.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, Prefix) {
		return value, nil
	}
	if cached, ok := r.cache.Load(value); ok {
		return cached.(string), nil
	}
	if r.kms == nil {
		return "", ErrKMSDisabled
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	out, err := r.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plain := string(out.Plaintext)
	r.cache.Store(value, plain)
	return plain, nil
}

// ResolveAll resolves each pointed-to value in place.
func (r *Resolver) ResolveAll(ctx context.Context, values map[string]*string) error {
	var errs []error
	for name, v := range values {
		if v == nil {
			continue
		}
		plain, err := r.Resolve(ctx, *v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*v = plain
	}
	return errors.Join(errs...)
}
