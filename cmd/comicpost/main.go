// Command comicpost posts a random xkcd comic to a VK community.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mikequentel/comicpost/internal/download"
	"github.com/mikequentel/comicpost/internal/httpx"
	"github.com/mikequentel/comicpost/internal/vk"
	"github.com/mikequentel/comicpost/internal/xkcd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", diagnose(err))
		return 1
	}
	return 0
}

// diagnose turns a failed run into one line a person can act on.
func diagnose(err error) string {
	var (
		apiErr    *vk.APIError
		statusErr *httpx.StatusError
		urlErr    *url.Error
		pathErr   *fs.PathError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("VK rejected %s with error %d: %s", apiErr.Method, apiErr.Code, apiErr.Message)
	case errors.As(err, &statusErr):
		msg := fmt.Sprintf("%s %s answered HTTP %d", statusErr.Method, statusErr.URL, statusErr.StatusCode)
		if statusErr.Body != "" {
			msg += ": " + statusErr.Body
		}
		return msg
	case errors.Is(err, xkcd.ErrComicNotFound):
		return fmt.Sprintf("no comic could be fetched: %s", err)
	case errors.Is(err, vk.ErrMissingField):
		return fmt.Sprintf("unexpected VK response, check token permissions: %s", err)
	case errors.Is(err, download.ErrEmptyName):
		return fmt.Sprintf("cannot name the image file: %s", err)
	case errors.As(err, &urlErr):
		return fmt.Sprintf("connection to %s failed: %v", stripQuery(urlErr.URL), urlErr.Err)
	case errors.As(err, &pathErr):
		return fmt.Sprintf("file error: %s %s: %v", pathErr.Op, pathErr.Path, pathErr.Err)
	}
	return err.Error()
}

// stripQuery drops the query string, which carries the VK token on GET calls.
func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
