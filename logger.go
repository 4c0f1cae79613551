package imgcache

import "github.com/unkn0wn-root/imgcache/internal/logx"

// Fields is a minimal structured field map for logs.
type Fields = logx.Fields

// Logger is a tiny leveled logger. Provide an adapter around logging stack.
// If Logger is nil in Options, logging is disabled.
type Logger = logx.Logger

type NopLogger = logx.NopLogger
