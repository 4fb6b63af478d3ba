package ssh

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"github.com/yoanbernabeu/vpndeploy/internal/constants"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
)

// UploadFile writes data to remotePath on the host over SFTP, creating
// parent directories. The file is written with the session user's rights.
func (s *Session) UploadFile(ctx context.Context, data []byte, remotePath string) error {
	const op = "upload file"

	if err := security.ValidateRemotePath(remotePath); err != nil {
		return errcode.Wrap(errcode.InvalidInput, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken.Load() {
		return errcode.Newf(errcode.SSHConnectionLost, op, "session to %s is no longer usable", s.Identity())
	}
	if err := ctx.Err(); err != nil {
		return contextError(op, err)
	}

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return errcode.Wrap(FromConnectionError(err), "open sftp", err)
	}
	defer client.Close()

	// Closing the client aborts any pending request.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-stop:
		}
	}()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return s.sftpError(ctx, op, err)
	}

	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return s.sftpError(ctx, op, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return s.sftpError(ctx, op, err)
	}
	if err := f.Close(); err != nil {
		return s.sftpError(ctx, op, err)
	}

	s.log.Debugf("uploaded %d bytes to %s", len(data), remotePath)
	return nil
}

func (s *Session) sftpError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(op, ctxErr)
	}
	var status *sftp.StatusError
	if errors.As(err, &status) || errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
		return errcode.Wrap(errcode.ProcessFailed, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.markBroken()
		return errcode.Wrap(errcode.SSHConnectionLost, op, err)
	}
	return errcode.Wrap(errcode.ProcessFailed, op, err)
}

// UploadTextFileToContainer writes content to path inside the container.
// The payload travels base64 encoded on stdin so it never meets a shell.
func (s *Session) UploadTextFileToContainer(ctx context.Context, c container.Container, content, filePath string) error {
	const op = "upload to container"

	name, err := containerName(c)
	if err != nil {
		return errcode.Wrap(errcode.InvalidInput, op, err)
	}
	if err := security.ValidateRemotePath(filePath); err != nil {
		return errcode.Wrap(errcode.InvalidInput, op, err)
	}

	inner := fmt.Sprintf("mkdir -p %s && base64 -d > %s",
		security.ShellEscape(path.Dir(filePath)), security.ShellEscape(filePath))
	cmd := fmt.Sprintf("%sdocker exec -i %s sh -c %s", s.sudo(), name, security.ShellEscape(inner))

	payload := strings.NewReader(base64.StdEncoding.EncodeToString([]byte(content)) + "\n")

	var stderr []string
	err = s.run(ctx, cmd, payload, Output{Stderr: func(l string) { stderr = append(stderr, l) }})
	return containerError(op, err, stderr)
}

// GetTextFileFromContainer reads a file from inside the container.
func (s *Session) GetTextFileFromContainer(ctx context.Context, c container.Container, filePath string) (string, error) {
	const op = "read from container"

	name, err := containerName(c)
	if err != nil {
		return "", errcode.Wrap(errcode.InvalidInput, op, err)
	}
	if err := security.ValidateRemotePath(filePath); err != nil {
		return "", errcode.Wrap(errcode.InvalidInput, op, err)
	}

	quoted := security.ShellEscape(filePath)
	inner := fmt.Sprintf("[ -f %s ] || exit %d; base64 %s", quoted, constants.FileNotFoundExitStatus, quoted)
	cmd := fmt.Sprintf("%sdocker exec -i %s sh -c %s", s.sudo(), name, security.ShellEscape(inner))

	var encoded strings.Builder
	var stderr []string
	err = s.run(ctx, cmd, nil, Output{
		Stdout: func(l string) { encoded.WriteString(strings.TrimSpace(l)) },
		Stderr: func(l string) { stderr = append(stderr, l) },
	})
	if err := containerError(op, err, stderr); err != nil {
		if status, ok := ExitStatus(err); ok && status == constants.FileNotFoundExitStatus {
			return "", errcode.Newf(errcode.FileNotFound, op, "%s not found in %s", filePath, name)
		}
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return "", errcode.Wrap(errcode.InternalError, op, err)
	}
	return string(data), nil
}

func (s *Session) sudo() string {
	if s.creds.NeedsSudo() {
		return "sudo -n "
	}
	return ""
}

func containerName(c container.Container) (string, error) {
	name := c.Name()
	if name == "" {
		return "", fmt.Errorf("no container selected")
	}
	return name, nil
}

// containerError refines a failed docker exec using its stderr.
func containerError(op string, err error, stderr []string) error {
	if err == nil {
		return nil
	}
	if errcode.CodeOf(err).Layer() != errcode.LayerProcess {
		return err
	}
	text := strings.Join(stderr, "\n")
	if strings.Contains(text, "No such container") || strings.Contains(text, "is not running") {
		return &errcode.Error{Code: errcode.ContainerNotFound, Op: op, Err: errors.New(strings.TrimSpace(text))}
	}
	return errcode.Wrap(errcode.ProcessFailed, op, err)
}
