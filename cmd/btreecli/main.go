package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kvedu/pageengine/internal/btree"
	"github.com/kvedu/pageengine/internal/bufferpool"
	"github.com/kvedu/pageengine/internal/config"
	"github.com/kvedu/pageengine/internal/heap"
	"github.com/kvedu/pageengine/internal/replacer"
	"github.com/kvedu/pageengine/internal/storage"
	"github.com/kvedu/pageengine/internal/wal"
)

// slotAllocator hands out synthetic heap.TID values for inserted keys.
// There is no row-store layer in this engine yet, so the CLI stands in a
// heap table by pairing each key with an incrementing slot on a single
// fake page.
type slotAllocator struct {
	next uint16
}

func (s *slotAllocator) alloc() heap.TID {
	tid := heap.TID{PageID: 1, Slot: s.next}
	s.next++
	return tid
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".btreecli"
	}
	return filepath.Join(home, ".btreecli")
}

func newReplacer(name string, capacity int) replacer.Replacer {
	switch name {
	case "clock":
		return replacer.NewClock(capacity)
	default:
		return replacer.NewLRU(capacity)
	}
}

func openTree(dir, walDir, name string, capacity, bucketSize int, replacerName string) (*btree.Tree, *bufferpool.Pool, *wal.Manager, error) {
	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, nil, nil, err
	}
	walMgr, err := wal.Open(walDir)
	if err != nil {
		return nil, nil, nil, err
	}
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: name}
	bp := bufferpool.NewPoolWithConfig(sm, fs, capacity, bucketSize, newReplacer(replacerName, capacity), walMgr)
	tree, err := btree.NewTree(sm, fs, bp)
	if err != nil {
		_ = walMgr.Close()
		return nil, nil, nil, err
	}
	return tree, bp, walMgr, nil
}

func printHelp() {
	fmt.Println(`meta commands:
  \q | quit | exit          quit
  \help                     show this help
  \drop                     close and delete the index on disk

commands:
  insert <key>               insert key, allocating a synthetic row id
  remove <key>                delete key
  get <key>                   look up key
  scan <min> <max>           list row ids of keys in [min, max]
  loadfile <path>             insert every whitespace-separated key in path
  removefile <path>           remove every whitespace-separated key in path
  stats                       show entry count and buffer pool hit/miss counters`)
}

func main() {
	var (
		dir        = flag.String("dir", "", "index storage directory (overrides config's storage.data_dir)")
		name       = flag.String("name", "index", "index file base name")
		configPath = flag.String("config", "", "YAML config file (see internal/config.Config); flags above take precedence")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	dataDir := *dir
	capacity := bufferpool.DefaultCapacity
	bucketSize := 0 // NewPoolWithConfig applies its own default
	replacerName := cfg.BufferPool.Replacer
	if dataDir == "" {
		if *configPath != "" {
			dataDir = cfg.Storage.DataDir
		} else {
			dataDir = defaultDataDir()
		}
	}
	if *configPath != "" {
		capacity = cfg.BufferPool.PoolSize
		bucketSize = cfg.BufferPool.BucketSize
	}
	walDir := cfg.Storage.WALDir
	if *configPath == "" {
		walDir = filepath.Join(dataDir, "wal")
	}

	tree, bp, walMgr, err := openTree(dataDir, walDir, *name, capacity, bucketSize, replacerName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open index: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = tree.Close() }()
	defer func() { _ = walMgr.Close() }()

	alloc := &slotAllocator{}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "btree> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("opened index %s in %s\n", *name, dataDir)
	fmt.Println("type \\help for help")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])

		switch cmd {
		case "\\q", "quit", "exit":
			return
		case "\\help":
			printHelp()
		case "\\drop":
			if err := tree.Close(); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			lfs := storage.LocalFileSet{Dir: dataDir, Base: *name}
			if err := btree.DropIndex(lfs); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("index dropped")
			return
		case "insert":
			key, err := parseKey(fields)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			tid := alloc.alloc()
			if err := tree.Insert(key, tid); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("inserted %d -> %+v\n", key, tid)
		case "remove":
			key, err := parseKey(fields)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if err := tree.Remove(key); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("removed")
		case "get":
			key, err := parseKey(fields)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			tids, err := tree.SearchEqual(key)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if len(tids) == 0 {
				fmt.Println("not found")
				continue
			}
			for _, tid := range tids {
				fmt.Printf("%d -> %+v\n", key, tid)
			}
		case "scan":
			if len(fields) != 3 {
				fmt.Println("usage: scan <min> <max>")
				continue
			}
			minKey, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			maxKey, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			entries, err := tree.RangeScan(minKey, maxKey)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if len(entries) == 0 {
				fmt.Println("(no rows)")
				continue
			}
			for i, tid := range entries {
				fmt.Printf("%d: %+v\n", i, tid)
			}
		case "loadfile":
			if len(fields) != 2 {
				fmt.Println("usage: loadfile <path>")
				continue
			}
			if err := tree.InsertFromFile(fields[1]); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("loaded")
		case "removefile":
			if len(fields) != 2 {
				fmt.Println("usage: removefile <path>")
				continue
			}
			if err := tree.RemoveFromFile(fields[1]); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("removed")
		case "stats":
			count, err := tree.Count()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			s := bp.Stats()
			p := message.NewPrinter(language.English)
			p.Printf("entries: %d\n", count)
			p.Printf("buffer pool: capacity %d, hits %d, misses %d, evictable %d, page table depth %d\n",
				s.Capacity, s.Hits, s.Misses, s.Evictable, s.TableDepth)
		default:
			fmt.Printf("unknown command: %s (try \\help)\n", cmd)
		}
	}
}

func parseKey(fields []string) (int64, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("usage: %s <key>", fields[0])
	}
	return strconv.ParseInt(fields[1], 10, 64)
}
