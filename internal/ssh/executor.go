package ssh

import (
	"context"

	"github.com/yoanbernabeu/vpndeploy/internal/container"
)

// Executor abstracts remote execution and file transfer for testability.
// *Session is the production implementation.
type Executor interface {
	Run(ctx context.Context, script string, out Output) error
	UploadFile(ctx context.Context, data []byte, remotePath string) error
	UploadTextFileToContainer(ctx context.Context, c container.Container, content, path string) error
	GetTextFileFromContainer(ctx context.Context, c container.Container, path string) (string, error)
}

var _ Executor = (*Session)(nil)
