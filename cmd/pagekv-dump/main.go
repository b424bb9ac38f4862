// Command pagekv-dump prints the live contents of a store instance.
//
// Values are raw byte strings as stored; printable values are shown
// as-is, everything else is hex encoded.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"unicode"

	"github.com/fulldump/goconfig"

	"github.com/pagekv/pagekv"
)

type config struct {
	Dir      string `usage:"runtime root directory"`
	ID       string `usage:"store instance id"`
	Key      string `usage:"hex-encoded crypt key, empty for a plain store"`
	Multi    bool   `usage:"open with the multi-process lock"`
	Sizes    bool   `usage:"print value sizes instead of contents"`
	LogLevel string `usage:"pagekv log level"`
}

func main() {
	c := config{
		Dir:      ".",
		LogLevel: "error",
	}
	goconfig.Read(&c)
	if c.ID == "" {
		fmt.Fprintln(os.Stderr, "pagekv-dump: -id is required")
		os.Exit(2)
	}

	if err := run(c); err != nil {
		fmt.Fprintf(os.Stderr, "pagekv-dump: %v\n", err)
		os.Exit(1)
	}
}

func run(c config) error {
	rt, err := pagekv.NewRuntime(c.Dir)
	if err != nil {
		return err
	}
	defer rt.CloseAll()
	if err := rt.SetLogLevel(c.LogLevel); err != nil {
		return err
	}

	var opts []pagekv.Option
	if c.Key != "" {
		key, err := hex.DecodeString(c.Key)
		if err != nil {
			return fmt.Errorf("decode crypt key: %w", err)
		}
		opts = append(opts, pagekv.WithCryptKey(key))
	}
	if c.Multi {
		opts = append(opts, pagekv.WithMultiProcess())
	}

	kv, err := rt.Open(c.ID, opts...)
	if err != nil {
		return err
	}

	keys := kv.AllKeys()
	sort.Strings(keys)

	fmt.Printf("# %s: %d keys, %d of %d bytes used\n",
		c.ID, len(keys), kv.ActualSize(), kv.TotalSize())
	for _, key := range keys {
		if c.Sizes {
			fmt.Printf("%s\t%d\n", key, kv.ValueSize(key))
			continue
		}
		fmt.Printf("%s\t%s\n", key, renderValue(kv.GetBytes(key)))
	}
	return nil
}

func renderValue(v []byte) string {
	if isPrintable(v) {
		return string(v)
	}
	return "0x" + hex.EncodeToString(v)
}

func isPrintable(v []byte) bool {
	if len(v) == 0 {
		return false
	}
	for _, r := range string(v) {
		if !unicode.IsPrint(r) || r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}
