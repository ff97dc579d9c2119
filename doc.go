/*
Package kvsession persists short-lived, per-principal sessions in a remote key-value store.

It offers a session lifecycle (open, read, write, destroy, touch, id allocation) on top of a
resilient connection layer, with ordered hooks around every read and write and owner-scoped
administration of the stored sessions.

Key Features:

  - Pluggable Backends: Redis (native expiry and SCAN), Memcached, SQLite (CGO-free) and PostgreSQL.
  - Connection Resilience: bounded retries with exponential backoff, key prefixing and
    deduplicated cursor-based enumeration.
  - Two Wire Codecs: a flat "key|value" format and a single structured container, both over
    a tagged-union Value model.
  - Hooks and Filters: ordered read/write hooks and write filters; a failing or panicking hook is
    contained and never breaks the request.
  - Security:
  - Collision-checked identifier allocation with a bounded attempt budget.
  - Owner-scoped identifiers whose owner token is carried in the context, not in shared state.
  - Glob metacharacters in owner tokens are escaped before they reach a SCAN pattern.
  - Identifiers are masked before they are logged or listed.
  - Pooled encode buffers are wiped before reuse.

Usage:

	backend := kvsession.NewRedisBackend(cfg)
	defer backend.Close()

	conn, err := kvsession.NewConnection(backend, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	h, err := kvsession.NewHandler(conn, kvsession.HandlerConfig{
		MaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	if !h.Open(ctx) {
		// storage unavailable: continue without a session
	}
	id, err := h.CreateID(ctx)
	wire, _ := kvsession.StructuredCodec{}.Encode(kvsession.NewMap().Set("user_id", kvsession.Int(42)))
	h.Write(ctx, id, wire)

Owner-Scoped Sessions:

Bind an owner with WithOwner and allocate ids with an OwnerIDGenerator; OwnerAdmin can then
count, list or invalidate every session of that owner.

	gen, _ := kvsession.NewOwnerIDGenerator("anon", 32)
	id, _ := gen.Generate(kvsession.WithOwner(ctx, "alice@example.com"))
	n, _ := admin.ForceInvalidateOwner(ctx, "alice@example.com")

Thread Safety:

Backends are safe for concurrent use. A Connection, and the Handler or OwnerAdmin built on it,
serves one unit of work at a time; give each concurrent request its own Connection over a shared
Backend. Pipelines are read-only once requests are being served.
*/
package kvsession
