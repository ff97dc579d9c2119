package kvsession

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ConnectionConfig describes how to reach the backing store and how hard to
// try. A copy is taken by NewConnection, so later changes to the caller's
// value have no effect.
type ConnectionConfig struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`

	// ConnectTimeout bounds a single connection attempt. Zero means no bound.
	ConnectTimeout time.Duration `validate:"gte=0"`
	// ReadTimeout bounds a single command round trip. Zero means no bound.
	ReadTimeout time.Duration `validate:"gte=0"`

	Credential string
	StoreIndex int `validate:"gte=0"`

	// KeyPrefix is prepended to every key sent to the store and stripped from
	// every key returned by Scan.
	KeyPrefix string

	PersistentConnection bool

	// RetryInterval is the base backoff delay between connection attempts.
	RetryInterval time.Duration `validate:"gte=0"`
	// MaxRetries is the number of connection attempts. Zero still makes one.
	MaxRetries int `validate:"gte=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate reports the first invalid field as an ErrConfiguration.
func (c ConnectionConfig) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" failed "+fe.Tag())
			}
			return configError("%s", strings.Join(fields, ", "))
		}
		return configError("%v", err)
	}
	return nil
}
