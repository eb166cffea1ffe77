package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gregLibert/se-terminal/pkg/config"
	"github.com/gregLibert/se-terminal/pkg/iso7816"
	"github.com/gregLibert/se-terminal/pkg/pcsc"
	"github.com/gregLibert/se-terminal/pkg/terminal"
	"github.com/gregLibert/se-terminal/pkg/tlv"
)

var (
	configPath = flag.String("config", "", "YAML configuration `file` (default $"+config.EnvConfigFile+")")
	readerName = flag.String("reader", "", "PC/SC reader `name` (default: first reader)")
	aidHex     = flag.String("aid", "", "application `AID` to select on the new channel (hex)")
	p2Hex      = flag.String("p2", "00", "SELECT P2 `byte` (hex)")
	listOnly   = flag.Bool("list", false, "list readers and exit")
	verbose    = flag.Bool("v", false, "print debug logs, including every APDU")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [apdu...]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Opens a logical channel, selects -aid on it and sends each hex APDU on that channel.")
		fmt.Fprintln(flag.CommandLine.Output())
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(); err != nil {
		slog.Error("se-terminal failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *readerName != "" {
		cfg.Reader = *readerName
	}

	closeLog, err := setupLogging(cfg.Log, *verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	if *listOnly {
		return listReaders()
	}

	// --- 1. Arguments ---
	aid, p2, err := selection()
	if err != nil {
		return err
	}
	cmds, err := parseCommands(flag.Args())
	if err != nil {
		return err
	}

	// --- 2. Hardware Setup ---
	tr, err := pcsc.Connect(cfg.Reader, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			slog.Warn("failed to close reader", "error", err)
		}
	}()
	fmt.Printf(">> Using reader: %s\n", tr.Reader())

	m, err := terminal.New(tr,
		terminal.WithPolicy(cfg.TerminalPolicy()),
		terminal.WithMaxChain(cfg.Engine.MaxChain),
		terminal.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Shutdown(); err != nil {
			slog.Warn("failed to close logical channels", "error", err)
		}
	}()
	fmt.Printf(">> ATR: %X\n", m.ATR())

	// --- 3. Execution Flow ---
	ch, err := m.OpenLogicalChannel(aid, p2)
	if err != nil {
		var selErr *terminal.SelectFailedError
		if errors.As(err, &selErr) && selErr.Cause == nil {
			fmt.Printf(">> SELECT rejected: %s\n", selErr.Status.Verbose())
		}
		return err
	}
	printChannel(ch)

	for _, cmd := range cmds {
		if err := exchange(m, ch.Number, cmd); err != nil {
			return err
		}
	}

	return m.CloseLogicalChannel(ch.Number)
}

// selection decodes -aid and -p2. An empty -aid opens the channel without SELECT.
func selection() ([]byte, byte, error) {
	var aid []byte
	if *aidHex != "" {
		var err error
		if aid, err = tlv.ParseHex(*aidHex); err != nil {
			return nil, 0, fmt.Errorf("-aid: %w", err)
		}
	}

	p2, err := tlv.ParseHex(*p2Hex)
	if err != nil || len(p2) != 1 {
		return nil, 0, fmt.Errorf("-p2: want one hex byte, got %q", *p2Hex)
	}
	return aid, p2[0], nil
}

// parseCommands validates every APDU before the card is touched.
func parseCommands(args []string) ([]*iso7816.CommandAPDU, error) {
	cmds := make([]*iso7816.CommandAPDU, 0, len(args))
	for i, arg := range args {
		raw, err := tlv.ParseHex(arg)
		if err != nil {
			return nil, fmt.Errorf("apdu #%d: %w", i+1, err)
		}
		cmd, err := iso7816.ParseCommandAPDU(raw)
		if err != nil {
			return nil, fmt.Errorf("apdu #%d: %w", i+1, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// exchange moves cmd onto the channel and prints the card's answer.
func exchange(m *terminal.Manager, channel int, cmd *iso7816.CommandAPDU) error {
	cla, err := cmd.Class.OnChannel(channel)
	if err != nil {
		return err
	}
	cmd.Class = cla

	fmt.Printf("\n>> %s\n", cmd)
	resp, err := m.TransmitAPDU(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("<< %X\n   %s\n", resp.Bytes(), resp.Status.Verbose())
	return nil
}

func printChannel(ch *terminal.LogicalChannel) {
	fmt.Printf(">> Opened %s\n", ch)
	if ch.State != terminal.StateSelected {
		return
	}

	fmt.Printf("   SELECT status: %s\n", ch.SelectStatus.Verbose())
	fci, err := ch.FCI()
	switch {
	case err != nil:
		fmt.Printf("   (!) Failed to parse SELECT response: %v\n", err)
	case fci != nil:
		fmt.Println(fci.Describe())
	}
}

func listReaders() error {
	readers, err := pcsc.ListReaders()
	if err != nil {
		return err
	}
	for i, r := range readers {
		fmt.Printf("[%d] %s\n", i, r)
	}
	return nil
}
