// Command rangecat copies a byte range of a remote HTTP resource to stdout
// or a file, fetching it with ranged requests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"remotestream/internal/services/rangestream"
	"remotestream/internal/services/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintln(os.Stderr, "rangecat:", err)
		os.Exit(1)
	}
}

type options struct {
	offset  int64
	length  int64
	output  string
	timeout time.Duration
	quiet   bool
	url     string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("rangecat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Int64Var(&opts.offset, "offset", 0, "first byte to copy; negative counts from the end")
	fs.Int64Var(&opts.length, "length", -1, "number of bytes to copy; -1 copies to the end")
	fs.StringVar(&opts.output, "o", "", "write to this file instead of stdout")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Second, "upstream response header timeout")
	fs.BoolVar(&opts.quiet, "q", false, "suppress the summary line")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: rangecat [flags] URL")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return options{}, errors.New("exactly one URL is required")
	}
	opts.url = fs.Arg(0)
	return opts, nil
}

// run is main without process exits. A nil doer uses the tuned transport.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, doer rangestream.Doer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	if doer == nil {
		doer = transport.NewClient(transport.Config{
			ResponseHeaderTimeout: opts.timeout,
			UserAgent:             "rangecat/1.0",
		})
	}

	start := time.Now()
	stream, err := rangestream.Dial(ctx, opts.url, doer)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.url, err)
	}
	defer stream.Close()
	stream.SetContext(ctx)

	whence := io.SeekStart
	if opts.offset < 0 {
		whence = io.SeekEnd
	}
	if _, err := stream.Seek(opts.offset, whence); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	out := stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	var copied int64
	if opts.length >= 0 {
		copied, err = io.CopyN(out, stream, opts.length)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	} else {
		copied, err = io.Copy(out, stream)
	}
	if err != nil {
		return fmt.Errorf("copy after %s: %w", humanize.IBytes(uint64(copied)), err)
	}

	if !opts.quiet {
		elapsed := time.Since(start)
		rate := float64(copied) / elapsed.Seconds()
		fmt.Fprintf(stderr, "%s of %s copied in %s (%s/s)\n",
			humanize.IBytes(uint64(copied)),
			humanize.IBytes(stream.Size()),
			elapsed.Round(time.Millisecond),
			humanize.IBytes(uint64(rate)),
		)
	}
	return nil
}
