package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	ofpconfig "github.com/jlijian3/nginx-ofp/internal/config"
	"gopkg.in/yaml.v3"
)

const configUsage = `
Usage:	nginx-ofp config [options]

   The config sub-command shows the configuration applied to the server. The
   text output is the content of the configuration file, or the defaults when
   the file does not exist.

Options:
   -c, --config path    Path to the nginx-ofp configuration file (overrides NGINXOFPCONFIG)
       --edit           Open $EDITOR to edit the configuration
   -h, --help           Show usage information
   -o, --output format  Output format, one of: text, json, yaml
`

func config(ctx context.Context, args []string) error {
	var (
		edit   bool
		output = outputFormat("text")
	)

	flagSet := newFlagSet("nginx-ofp config", configUsage)
	boolVar(flagSet, &edit, "edit")
	customVar(flagSet, &output, "o", "output")

	args, err := parseFlags(flagSet, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return usageError("nginx-ofp config: unexpected arguments: %q", args)
	}

	if edit {
		if err := editConfig(); err != nil {
			return err
		}
	}

	config, err := ofpconfig.Load()
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	switch output {
	case "json":
		e := json.NewEncoder(w)
		e.SetEscapeHTML(false)
		e.SetIndent("", "  ")
		return e.Encode(config)
	case "yaml":
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(config); err != nil {
			return err
		}
		return e.Close()
	default:
		r, _, err := ofpconfig.Open()
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(w, r)
		return err
	}
}

func editConfig() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return errors.New(`$EDITOR is not set`)
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	r, path, err := ofpconfig.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
	}

	tmp, err := createTempFile(path, r)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	p, err := os.StartProcess(shell, []string{shell, "-c", editor + " " + tmp}, &os.ProcAttr{
		Files: []*os.File{
			0: os.Stdin,
			1: os.Stdout,
			2: os.Stderr,
		},
	})
	if err != nil {
		return err
	}
	if _, err := p.Wait(); err != nil {
		return err
	}

	f, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := ofpconfig.Read(f); err != nil {
		return fmt.Errorf("not applying configuration updates because the file is invalid: %w", err)
	}
	return os.Rename(tmp, path)
}

func createTempFile(path string, r io.Reader) (string, error) {
	dir, file := filepath.Split(path)
	w, err := os.CreateTemp(dir, "."+file+".*")
	if err != nil {
		return "", err
	}
	defer w.Close()
	_, err = io.Copy(w, r)
	return w.Name(), err
}
