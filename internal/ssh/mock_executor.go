package ssh

import (
	"context"
	"sync"

	"github.com/yoanbernabeu/vpndeploy/internal/container"
)

// MockExecutor is a test double that records scripts and returns configured results.
type MockExecutor struct {
	RunFunc        func(ctx context.Context, script string, out Output) error
	UploadFileFunc func(ctx context.Context, data []byte, remotePath string) error
	UploadTextFunc func(ctx context.Context, c container.Container, content, path string) error
	GetTextFunc    func(ctx context.Context, c container.Container, path string) (string, error)

	mu      sync.Mutex
	Scripts []string
	Uploads map[string]string
}

// Run records the script and delegates to RunFunc.
func (m *MockExecutor) Run(ctx context.Context, script string, out Output) error {
	m.mu.Lock()
	m.Scripts = append(m.Scripts, script)
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(ctx, script, out)
	}
	return nil
}

// UploadFile records the upload and delegates to UploadFileFunc.
func (m *MockExecutor) UploadFile(ctx context.Context, data []byte, remotePath string) error {
	m.record("host:"+remotePath, string(data))
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, data, remotePath)
	}
	return nil
}

// UploadTextFileToContainer records the upload and delegates to UploadTextFunc.
func (m *MockExecutor) UploadTextFileToContainer(ctx context.Context, c container.Container, content, path string) error {
	m.record(c.Name()+":"+path, content)
	if m.UploadTextFunc != nil {
		return m.UploadTextFunc(ctx, c, content, path)
	}
	return nil
}

// GetTextFileFromContainer delegates to GetTextFunc, falling back to
// whatever was uploaded to the same location.
func (m *MockExecutor) GetTextFileFromContainer(ctx context.Context, c container.Container, path string) (string, error) {
	if m.GetTextFunc != nil {
		return m.GetTextFunc(ctx, c, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Uploads[c.Name()+":"+path], nil
}

// RecordedScripts returns a copy of every script run so far.
func (m *MockExecutor) RecordedScripts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Scripts))
	copy(out, m.Scripts)
	return out
}

func (m *MockExecutor) record(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Uploads == nil {
		m.Uploads = make(map[string]string)
	}
	m.Uploads[key] = content
}
