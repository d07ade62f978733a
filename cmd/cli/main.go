// Command panelctl is a CLI client for the keypad relay HTTP API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ---- config/profile store ----

type profile struct {
	Token     string `json:"token,omitempty"`
	UserKey   string `json:"user_key,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "panelctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "panelctl")
}

func profilePath() string { return filepath.Join(cfgDir(), "profile.json") }

func saveProfile(p profile) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(profilePath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// loadProfile returns an empty profile when none was saved yet.
func loadProfile() (profile, error) {
	var p profile
	b, err := os.ReadFile(profilePath())
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("profile %s: %w", profilePath(), err)
	}
	return p, nil
}

// ---- http client ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev flag
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool}, nil
}

func httpClient(caPath string, insecure bool) (*http.Client, error) {
	cfg, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = cfg
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func pretty(b []byte) string {
	var out any
	if json.Unmarshal(b, &out) == nil {
		j, _ := json.MarshalIndent(out, "", "  ")
		return string(j)
	}
	return string(b)
}

func usage() {
	fmt.Fprintf(os.Stderr, `panelctl
Usage:
  panelctl -addr URL [-cacert file | -insecure] [-key user_key] <cmd> [args]

Commands:
  version
  login      -token <jwt>                          (saves platform session token)
  adduser                                          (enrolls the session account)
  session                                          (saves user key and session id)
  set        -type <item> [-file f | k=v ...]
  get        -type <item> [-clear]
  track      -component <c> -value <v>
  door
  state
  cmd-add    -command <c> [-modifier m] [k=v ...]
  cmds       [-clear]
  watch                                            (prints pushed payloads)
`)
	os.Exit(2)
}

func fail(err error) {
	var se *statusError
	if errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "http error: status=%d body=%q\n", se.Code, se.Body)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the relay API.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	keyFlag := flag.String("key", "", "user key (defaults to the saved profile)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	prof, err := loadProfile()
	if err != nil {
		fail(err)
	}
	hc, err := httpClient(*caPath, *insecure)
	if err != nil {
		fail(err)
	}
	cl := newClient(*addr, hc, prof.Token)

	userKey := func() string {
		if *keyFlag != "" {
			return *keyFlag
		}
		if prof.UserKey == "" {
			fail(errors.New("no user key; run session first or pass -key"))
		}
		return prof.UserKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("panelctl %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "platform session token")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		prof.Token = strings.TrimSpace(*tok)
		if err := saveProfile(prof); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "adduser":
		if err := cl.addUser(ctx); err != nil {
			fail(err)
		}
		fmt.Println("Added")

	case "session":
		info, err := cl.session(ctx)
		if err != nil {
			fail(err)
		}
		prof.UserKey, prof.SessionID = info.UserKey, info.SessionID
		if err := saveProfile(prof); err != nil {
			fail(err)
		}
		printJSON(info)

	case "set":
		fs := flag.NewFlagSet("set", flag.ExitOnError)
		typ := fs.String("type", "status", "item type")
		file := fs.String("file", "", "JSON payload file ('-' = stdin)")
		_ = fs.Parse(args)

		var payload []byte
		if *file != "" {
			raw, err := readAll(*file)
			if err != nil {
				fail(err)
			}
			payload, err = withUserKey(raw, userKey())
			if err != nil {
				fail(err)
			}
		} else {
			payload, err = buildPayload(userKey(), fs.Args())
			if err != nil {
				fail(err)
			}
		}
		if err := cl.set(ctx, *typ, payload); err != nil {
			fail(err)
		}
		fmt.Println("OK")

	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		typ := fs.String("type", "status", "item type")
		clearFlag := fs.Bool("clear", false, "delete after read")
		_ = fs.Parse(args)

		b, found, err := cl.get(ctx, userKey(), *typ, *clearFlag)
		if err != nil {
			fail(err)
		}
		if !found {
			fmt.Fprintln(os.Stderr, "not found")
			os.Exit(1)
		}
		fmt.Println(pretty(b))

	case "track":
		fs := flag.NewFlagSet("track", flag.ExitOnError)
		component := fs.String("component", "", "component, e.g. FRONT_DOOR")
		value := fs.String("value", "", "value")
		_ = fs.Parse(args)
		if *component == "" {
			fmt.Fprintln(os.Stderr, "need -component")
			os.Exit(1)
		}
		if err := cl.track(ctx, userKey(), *component, *value); err != nil {
			fail(err)
		}
		fmt.Println("OK")

	case "door", "state":
		out, err := cl.history(ctx, "/"+cmd, userKey())
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "cmd-add":
		fs := flag.NewFlagSet("cmd-add", flag.ExitOnError)
		command := fs.String("command", "", "command name")
		modifier := fs.String("modifier", "", "command modifier")
		_ = fs.Parse(args)
		if *command == "" {
			fmt.Fprintln(os.Stderr, "need -command")
			os.Exit(1)
		}
		kv := append([]string{"command=" + *command}, fs.Args()...)
		if *modifier != "" {
			kv = append(kv, "modifier="+*modifier)
		}
		if prof.SessionID != "" {
			kv = append(kv, "user_uuid="+prof.SessionID)
		}
		body, err := buildPayload(userKey(), kv)
		if err != nil {
			fail(err)
		}
		if err := cl.addCommand(ctx, body); err != nil {
			fail(err)
		}
		fmt.Println("OK")

	case "cmds":
		fs := flag.NewFlagSet("cmds", flag.ExitOnError)
		clearFlag := fs.Bool("clear", false, "drain the queue")
		_ = fs.Parse(args)
		out, err := cl.commands(ctx, userKey(), *clearFlag)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "watch":
		cancel()
		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := cl.watch(sigCtx, userKey(), os.Stdout); err != nil && sigCtx.Err() == nil {
			fail(err)
		}

	default:
		usage()
	}
}
