package commands

import (
	"fmt"

	"github.com/Morditux/kvsession"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// session bundles what a command needs to talk to the store.
type session struct {
	opts    kvsession.Options
	backend kvsession.Backend
	conn    *kvsession.Connection
	logger  zerolog.Logger
}

func (s *session) Close() {
	s.conn.Close()
	_ = s.backend.Close()
}

func openSession(cmd *cobra.Command) (*session, error) {
	opts, err := kvsession.LoadOptions(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := kvsession.NewLogger(cmd.ErrOrStderr(), opts.Logging.Level, opts.Logging.Format)
	if err != nil {
		return nil, err
	}

	backend, err := opts.OpenBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", opts.Driver, err)
	}

	conn, err := kvsession.NewConnection(backend, opts.ConnectionConfig(), logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := conn.Connect(cmd.Context()); err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &session{opts: opts, backend: backend, conn: conn, logger: logger}, nil
}

func (s *session) handler() (*kvsession.Handler, error) {
	codec, err := s.opts.NewCodec()
	if err != nil {
		return nil, err
	}
	return kvsession.NewHandler(s.conn, kvsession.HandlerConfig{
		Codec:       codec,
		MaxLifetime: s.opts.MaxLifetime(),
		Logger:      &s.logger,
	})
}

func (s *session) admin() (*kvsession.OwnerAdmin, error) {
	return kvsession.NewOwnerAdmin(s.conn, s.logger)
}
