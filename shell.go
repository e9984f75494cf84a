package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jgerrish/image-rider/disk"
)

const MAXVOL = 8

// shellVolume is an opened image: the raw bytes and the decode made of them
// under the current policy.
type shellVolume struct {
	Filename string
	Raw      []byte
	Image    *disk.DiskImage
}

var commandList map[string]*shellCommand
var commandVolumes [MAXVOL]*shellVolume
var commandTarget int = -1
var shellConfig = defaultConfig()

func openVolume(filename string) (*shellVolume, error) {
	raw, err := loadImage(filename)
	if err != nil {
		return nil, err
	}
	v := &shellVolume{Filename: filename, Raw: raw}
	return v, v.decode()
}

func (v *shellVolume) decode() error {
	opts, err := shellConfig.Options(0)
	if err != nil {
		return err
	}
	img, err := shellConfig.decode(v.Raw, opts)
	if err != nil {
		return err
	}
	v.Image = img
	return nil
}

func mountVolume(v *shellVolume) (int, error) {

	var fr []int

	for i, d := range commandVolumes {
		if d == nil {
			fr = append(fr, i)
		} else if v.Filename == d.Filename {
			commandVolumes[i] = v
			return i, nil
		}
	}

	if len(fr) == 0 {
		return -1, errors.New("No free slots")
	}

	commandVolumes[fr[0]] = v

	return fr[0], nil
}

func smartSplit(line string) (string, []string) {

	var out []string

	var inqq bool
	var lastEscape bool
	var chunk string

	add := func() {
		if chunk != "" {
			out = append(out, chunk)
			chunk = ""
		}
	}

	for _, ch := range line {
		switch {
		case ch == '"':
			inqq = !inqq
			add()
		case ch == ' ':
			if inqq || lastEscape {
				chunk += string(ch)
			} else {
				add()
			}
			lastEscape = false
		case ch == '\\' && !inqq:
			lastEscape = true
		default:
			chunk += string(ch)
		}
	}

	add()

	if len(out) == 0 {
		return "", out
	}

	return out[0], out[1:]
}

func getPrompt(t int) string {
	if t == -1 || commandVolumes[t] == nil {
		return "rider:<none>> "
	}
	v := commandVolumes[t]
	return fmt.Sprintf("rider:%d:%s:%s> ", t, filepath.Base(v.Filename), v.Image.Format)
}

type shellCommand struct {
	Name             string
	Description      string
	MinArgs, MaxArgs int
	Code             func(args []string) int
	NeedsMount       bool
	Context          shellCommandContext
	Text             []string
}

type shellCommandContext int

const (
	sccNone shellCommandContext = 1 << iota
	sccLocal
	sccRegion
	sccCommand
)

type shellCompleter struct {
}

func hasPrefix(str []rune, prefix []rune) bool {
	if len(prefix) > len(str) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if str[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (sc *shellCompleter) Do(line []rune, pos int) ([][]rune, int) {

	prefix := ""
	chunk := ""
	for _, ch := range line {
		if ch == ' ' {
			prefix = chunk
			break
		} else {
			chunk += string(ch)
		}
	}

	chunk = ""
	var lastEscape bool
	for i := 0; i < pos; i++ {
		ch := line[i]
		switch {
		case ch == '\\':
			lastEscape = true
		case ch == ' ' && !lastEscape:
			chunk = ""
			lastEscape = false
		default:
			chunk += string(ch)
		}
	}
	cprefix := chunk

	context := sccCommand
	if cmd, match := commandList[prefix]; match {
		context = cmd.Context
	}

	var items [][]rune
	switch context {
	case sccCommand:
		for k := range commandList {
			items = append(items, []rune(k))
		}
	case sccRegion:
		if commandTarget == -1 || commandVolumes[commandTarget] == nil {
			return [][]rune(nil), 0
		}
		for _, r := range commandVolumes[commandTarget].Image.Regions() {
			items = append(items, []rune(r))
		}
	case sccLocal:
		files, err := filepath.Glob(cprefix + "*")
		if err != nil {
			return items, 0
		}
		for _, v := range files {
			items = append(items, []rune(v))
		}
	}

	if len(items) == 0 {
		return [][]rune(nil), 0
	}

	var filt [][]rune
	for _, v := range items {
		if hasPrefix(v, []rune(cprefix)) {
			filt = append(filt, shellEscape(v[len(cprefix):]))
		}
	}
	return filt, len(cprefix)
}

func shellEscape(str []rune) []rune {
	out := make([]rune, 0)
	for _, v := range str {
		if v == ' ' {
			out = append(out, '\\')
		}
		out = append(out, v)
	}
	return out
}

func init() {
	commandList = map[string]*shellCommand{
		"open": {
			Name:        "open",
			Description: "Open and decode a disk image",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellOpen,
			Context:     sccLocal,
			Text: []string{
				"open <diskfile>",
				"",
				"Decodes the image under the current checksum policy and makes it",
				"the target for the other commands.",
			},
		},
		"close": {
			Name:        "close",
			Description: "Close the target image",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellClose,
			NeedsMount:  true,
			Context:     sccNone,
		},
		"target": {
			Name:        "target",
			Description: "Select an open image by slot",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellTarget,
			Context:     sccNone,
			Text:        []string{"target <slot>"},
		},
		"disks": {
			Name:        "disks",
			Description: "List open images",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellDisks,
			Context:     sccNone,
		},
		"info": {
			Name:        "info",
			Description: "Describe the target image",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellInfo,
			NeedsMount:  true,
			Context:     sccNone,
		},
		"tracks": {
			Name:        "tracks",
			Description: "List tracks with sector counts and defects",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellTracks,
			NeedsMount:  true,
			Context:     sccNone,
		},
		"sectors": {
			Name:        "sectors",
			Description: "List the sectors of a track in logical order",
			MinArgs:     1,
			MaxArgs:     2,
			Code:        shellSectors,
			NeedsMount:  true,
			Context:     sccNone,
			Text:        []string{"sectors <track> [side]"},
		},
		"regions": {
			Name:        "regions",
			Description: "List named regions",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellRegions,
			NeedsMount:  true,
			Context:     sccRegion,
		},
		"extract": {
			Name:        "extract",
			Description: "Write selected sectors to a file",
			MinArgs:     1,
			MaxArgs:     -1,
			Code:        shellExtract,
			NeedsMount:  true,
			Context:     sccLocal,
			Text: []string{
				"extract <outfile> [tracks <a-b> | track <t> sectors <ids> | region <name>]",
				"",
				"Sectors are written in ascending logical order. A .zst outfile is",
				"compressed.",
			},
		},
		"sum": {
			Name:        "sum",
			Description: "Checksum selected sectors",
			MinArgs:     1,
			MaxArgs:     -1,
			Code:        shellSum,
			NeedsMount:  true,
			Context:     sccNone,
			Text:        []string{"sum <xor|add|crc16|sha256> [selection as for extract]"},
		},
		"policy": {
			Name:        "policy",
			Description: "Show or set the checksum policy (enforce|ignore)",
			MinArgs:     0,
			MaxArgs:     1,
			Code:        shellPolicy,
			Context:     sccNone,
			Text: []string{
				"policy [enforce|ignore]",
				"",
				"Changing the policy decodes every open image again.",
			},
		},
		"help": {
			Name:        "help",
			Description: "Shows this help",
			MinArgs:     -1,
			MaxArgs:     1,
			Code:        shellHelp,
			Context:     sccCommand,
		},
		"quit": {
			Name:        "quit",
			Description: "Leave this place",
			MinArgs:     -1,
			MaxArgs:     -1,
			Code:        shellQuit,
			Context:     sccNone,
		},
	}
}

func shellProcess(line string) int {
	line = strings.TrimSpace(line)

	verb, args := smartSplit(line)

	if verb == "" || strings.HasPrefix(verb, "#") {
		return 0
	}

	verb = strings.ToLower(verb)
	command, ok := commandList[verb]
	if !ok {
		os.Stderr.WriteString(fmt.Sprintf("Unrecognized command: %s\n", verb))
		return -1
	}

	if command.MinArgs != -1 && len(args) < command.MinArgs {
		os.Stderr.WriteString(fmt.Sprintf("%s expects at least %d arguments\n", verb, command.MinArgs))
		return -1
	}
	if command.MaxArgs != -1 && len(args) > command.MaxArgs {
		os.Stderr.WriteString(fmt.Sprintf("%s expects at most %d arguments\n", verb, command.MaxArgs))
		return -1
	}
	if command.NeedsMount && (commandTarget == -1 || commandVolumes[commandTarget] == nil) {
		os.Stderr.WriteString(fmt.Sprintf("%s needs an open image\n", verb))
		return -1
	}

	return command.Code(args)
}

func shellDo(v *shellVolume) error {

	if v != nil {
		slot, err := mountVolume(v)
		if err != nil {
			return err
		}
		commandTarget = slot
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 getPrompt(commandTarget),
		HistoryFile:            filepath.Join(binpath(), ".shell_history"),
		DisableAutoSaveHistory: false,
		AutoComplete:           &shellCompleter{},
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}

		if r := shellProcess(line); r == 999 {
			return nil
		}

		rl.SetPrompt(getPrompt(commandTarget))
	}
}

// shellBatch runs commands one per line and stops at the first failure.
func shellBatch(lines []string) error {
	for i, l := range lines {
		switch shellProcess(l) {
		case -1:
			return fmt.Errorf("script failed at line %d: %s", i+1, l)
		case 999:
			return nil
		}
	}
	return nil
}

func shellOpen(args []string) int {

	v, err := openVolume(args[0])
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}

	slot, err := mountVolume(v)
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	commandTarget = slot

	fmt.Printf("Opened %s in slot %d: %s\n", args[0], slot, v.Image)
	return 0
}

func shellClose(args []string) int {
	commandVolumes[commandTarget] = nil
	commandTarget = -1
	for i, v := range commandVolumes {
		if v != nil {
			commandTarget = i
			break
		}
	}
	return 0
}

func shellTarget(args []string) int {
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 || slot >= MAXVOL || commandVolumes[slot] == nil {
		os.Stderr.WriteString("No image in slot " + args[0] + "\n")
		return -1
	}
	commandTarget = slot
	return 0
}

func shellDisks(args []string) int {
	for i, v := range commandVolumes {
		if v == nil {
			continue
		}
		mark := " "
		if i == commandTarget {
			mark = "*"
		}
		fmt.Printf("%s%d %s (%s)\n", mark, i, v.Filename, v.Image.Format)
	}
	return 0
}

func shellHelp(args []string) int {

	if len(args) == 0 {
		keys := make([]string, 0, len(commandList))
		for k := range commandList {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			info := commandList[k]
			fmt.Printf("%-10s %s\n", info.Name, info.Description)
		}
		return 0
	}

	command := strings.ToLower(args[0])
	details, ok := commandList[command]
	if !ok || details.Text == nil {
		os.Stderr.WriteString("No help available for " + command + "\n")
		return 0
	}
	for _, l := range details.Text {
		fmt.Println(l)
	}
	return 0
}

func shellInfo(args []string) int {
	v := commandVolumes[commandTarget]
	writeInfo(os.Stdout, newDiskRecord(v.Filename, v.Image))
	return 0
}

func shellTracks(args []string) int {
	g := commandVolumes[commandTarget].Image.Geometry()
	for _, t := range g.Ordered() {
		bad := 0
		for i := range t.Sectors {
			if t.Sectors[i].Invalid() {
				bad++
			}
		}
		line := fmt.Sprintf("Track %.2d side %d: %2d sectors at %s", t.Index, t.Side, len(t.Sectors), t.Extent)
		if bad > 0 {
			line += fmt.Sprintf(", %d invalid", bad)
		}
		if t.Defect != nil {
			line += ", " + t.Defect.Error()
		}
		fmt.Println(line)
	}
	return 0
}

func shellSectors(args []string) int {
	track, err := strconv.Atoi(args[0])
	if err != nil {
		os.Stderr.WriteString("Bad track " + args[0] + "\n")
		return -1
	}
	side := 0
	if len(args) > 1 {
		if side, err = strconv.Atoi(args[1]); err != nil {
			os.Stderr.WriteString("Bad side " + args[1] + "\n")
			return -1
		}
	}
	t, ok := commandVolumes[commandTarget].Image.Geometry().Track(track, side)
	if !ok {
		os.Stderr.WriteString(fmt.Sprintf("No track %d side %d\n", track, side))
		return -1
	}
	for _, s := range t.LogicalOrder() {
		line := fmt.Sprintf("%.2d (phys %.2d) %s %4d bytes", s.ID, s.Physical, s.Extent, s.Size)
		if s.HasChecksum {
			line += " checksum " + s.Checksum.String()
		}
		if s.Defect != nil {
			line += " " + s.Defect.Error()
		}
		fmt.Println(line)
	}
	return 0
}

func shellRegions(args []string) int {
	for _, r := range commandVolumes[commandTarget].Image.Regions() {
		fmt.Println(r)
	}
	return 0
}

// shellSelection parses the selection words shared by extract and sum.
func shellSelection(args []string) (disk.Selection, error) {
	var f selectionFlags
	f.track, f.side = -1, -1
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return disk.Selection{}, fmt.Errorf("%s needs a value", args[i])
		}
		val := args[i+1]
		switch strings.ToLower(args[i]) {
		case "tracks":
			f.tracks = val
		case "track":
			t, err := strconv.Atoi(val)
			if err != nil {
				return disk.Selection{}, fmt.Errorf("bad track %q", val)
			}
			f.track = t
		case "side":
			s, err := strconv.Atoi(val)
			if err != nil {
				return disk.Selection{}, fmt.Errorf("bad side %q", val)
			}
			f.side = s
		case "sectors":
			f.sectors = val
		case "region":
			f.region = val
		default:
			return disk.Selection{}, fmt.Errorf("unknown selection word %q", args[i])
		}
	}
	return f.selection()
}

func shellExtract(args []string) int {
	sel, err := shellSelection(args[1:])
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	data, err := disk.Extract(commandVolumes[commandTarget].Image, sel)
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	if err := saveImage(args[0], data); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	fmt.Printf("Extracted %d bytes (%s) to %s\n", len(data), sel, args[0])
	return 0
}

func shellSum(args []string) int {
	sel, err := shellSelection(args[1:])
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	data, err := disk.Extract(commandVolumes[commandTarget].Image, sel)
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	sum, err := checksum(args[0], data)
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return -1
	}
	fmt.Printf("%s %s (%d bytes, %s)\n", args[0], sum, len(data), sel)
	return 0
}

func shellPolicy(args []string) int {
	if len(args) == 0 {
		if shellConfig.IgnoreChecksums {
			fmt.Println(disk.ChecksumsIgnored)
		} else {
			fmt.Println(disk.ChecksumsEnforced)
		}
		return 0
	}

	switch strings.ToLower(args[0]) {
	case "enforce", "enforced":
		shellConfig.IgnoreChecksums = false
	case "ignore", "ignored":
		shellConfig.IgnoreChecksums = true
	default:
		os.Stderr.WriteString("policy is enforce or ignore\n")
		return -1
	}

	for i, v := range commandVolumes {
		if v == nil {
			continue
		}
		if err := v.decode(); err != nil {
			os.Stderr.WriteString(fmt.Sprintf("Error: slot %d: %s\n", i, err))
			return -1
		}
	}
	return 0
}

func shellQuit(args []string) int {
	return 999
}
