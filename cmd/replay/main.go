package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	persistlog "wavedirector.ai/internal/persistence/log"
	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/policy"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory containing journal/")
		policyPath = flag.String("policy", "", "policy.yaml used by the run (optional; enables once/order/cooldown checks)")
		maxShow    = flag.Int("max_violations", 20, "violations to print")
	)
	flag.Parse()

	var cfg *policy.Config
	if p := strings.TrimSpace(*policyPath); p != "" {
		c, err := policy.Load(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load policy:", err)
			os.Exit(1)
		}
		cfg = c
	}

	files, err := persistlog.JournalFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files under", *dataDir)
		os.Exit(2)
	}

	a := newAuditor(cfg)
	if err := persistlog.ReadJournal(*dataDir, func(r director.TickReport) error {
		a.observe(r)
		return nil
	}); err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}

	fmt.Printf("journal files=%d ticks=%d segments=%d seeks=%d spawned=%d violations=%d\n",
		len(files), a.ticks, a.segments, a.seeks, a.spawned, len(a.violations))

	archetypes := make([]string, 0, len(a.totals))
	for k := range a.totals {
		archetypes = append(archetypes, k)
	}
	sort.Strings(archetypes)
	for _, k := range archetypes {
		t := a.totals[k]
		fmt.Printf("  %-16s timeline=%d weighted=%d\n", k, t[director.SourceTimeline], t[director.SourceWeighted])
	}

	for i, v := range a.violations {
		if i >= *maxShow {
			fmt.Printf("  ... %d more\n", len(a.violations)-i)
			break
		}
		fmt.Println("  violation:", v)
	}
	if len(a.violations) > 0 {
		os.Exit(1)
	}
}
