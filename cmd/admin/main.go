package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "status":
		getCmd("status", "/admin/v1/status", args)
	case "pace":
		paceCmd(args)
	case "delay":
		delayCmd(args)
	case "spawns":
		valueCmd("spawns", "/admin/v1/spawns_per_tick", false, args)
	case "weight":
		valueCmd("weight", "/admin/v1/weight", true, args)
	case "max":
		valueCmd("max", "/admin/v1/max", true, args)
	case "weighted":
		weightedCmd(args)
	case "seek":
		seekCmd(args)
	case "reload":
		postCmd("reload", "/admin/v1/reload", nil, args)
	case "db":
		dbCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  status                         print director status
  pace [-design S -run S -pressure P | -reset]
  delay -ms N                    set the tick period
  spawns -value V                set spawns_per_tick (number or expression)
  weight -archetype A -value V   override a weight (-clear to drop the override)
  max -archetype A -value V      override a cap (-clear to drop the override)
  weighted -on|-off              toggle the weighted policy
  seek -t SECONDS                jump the run clock
  reload                         re-read the policy file
  db [runs|totals|events]        query the spawn index`)
}

// rawValue turns a CLI value into JSON: numbers stay numbers, anything else is
// sent as an expression string.
func rawValue(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func paceCmd(args []string) {
	fs := flag.NewFlagSet("pace", flag.ExitOnError)
	baseURL := urlFlag(fs)
	design := fs.Float64("design", 0, "design seconds")
	run := fs.Float64("run", 0, "run seconds")
	pressure := fs.Float64("pressure", 1, "pressure multiplier, clamped to >= 0.1; omitted unless set")
	reset := fs.Bool("reset", false, "reset to the identity mapping")
	_ = fs.Parse(args)

	switch {
	case *reset:
		doRequest(*baseURL, "POST", "/admin/v1/pace", json.RawMessage("null"))
	case *design == 0 && *run == 0:
		doRequest(*baseURL, "GET", "/admin/v1/pace", nil)
	default:
		body := map[string]float64{
			"design_seconds": *design,
			"run_seconds":    *run,
		}
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "pressure" {
				body["pressure"] = *pressure
			}
		})
		doRequest(*baseURL, "POST", "/admin/v1/pace", body)
	}
}

func delayCmd(args []string) {
	fs := flag.NewFlagSet("delay", flag.ExitOnError)
	baseURL := urlFlag(fs)
	ms := fs.Int("ms", 0, "tick period in milliseconds")
	_ = fs.Parse(args)
	if *ms <= 0 {
		fmt.Fprintln(os.Stderr, "missing -ms")
		os.Exit(2)
	}
	doRequest(*baseURL, "POST", "/admin/v1/delay", map[string]int{"delay_ms": *ms})
}

func valueCmd(name, path string, needArchetype bool, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := urlFlag(fs)
	archetype := fs.String("archetype", "", "archetype key")
	value := fs.String("value", "", "number or tengo expression over t")
	clearIt := fs.Bool("clear", false, "drop the override")
	_ = fs.Parse(args)

	if needArchetype && strings.TrimSpace(*archetype) == "" {
		fmt.Fprintln(os.Stderr, "missing -archetype")
		os.Exit(2)
	}
	body := struct {
		Archetype string          `json:"archetype,omitempty"`
		Value     json.RawMessage `json:"value"`
	}{Archetype: strings.TrimSpace(*archetype)}
	switch {
	case *clearIt:
		body.Value = json.RawMessage("null")
	case strings.TrimSpace(*value) == "":
		fmt.Fprintln(os.Stderr, "missing -value")
		os.Exit(2)
	default:
		body.Value = rawValue(*value)
	}
	doRequest(*baseURL, "POST", path, body)
}

func weightedCmd(args []string) {
	fs := flag.NewFlagSet("weighted", flag.ExitOnError)
	baseURL := urlFlag(fs)
	on := fs.Bool("on", false, "enable the weighted policy")
	off := fs.Bool("off", false, "disable the weighted policy")
	_ = fs.Parse(args)
	if *on == *off {
		fmt.Fprintln(os.Stderr, "pass exactly one of -on or -off")
		os.Exit(2)
	}
	doRequest(*baseURL, "POST", "/admin/v1/weighted", map[string]bool{"enabled": *on})
}

func seekCmd(args []string) {
	fs := flag.NewFlagSet("seek", flag.ExitOnError)
	baseURL := urlFlag(fs)
	t := fs.Float64("t", -1, "run time in seconds")
	_ = fs.Parse(args)
	if *t < 0 {
		fmt.Fprintln(os.Stderr, "missing -t")
		os.Exit(2)
	}
	doRequest(*baseURL, "POST", "/admin/v1/seek", map[string]float64{"t_run": *t})
}
