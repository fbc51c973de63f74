package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/annel0/voxel-core/internal/config"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

func main() {
	var (
		configPath = flag.String("config", "", "config.yaml (реестр блоков, размер чанка, путь к данным)")
		dataPath   = flag.String("data", "", "каталог данных, перекрывает storage.path")
		command    = flag.String("cmd", "list", "Command: list, dump, stats")
		x          = flag.Int("x", 0, "X чанка")
		y          = flag.Int("y", 0, "Y чанка")
		z          = flag.Int("z", 0, "Z чанка")
		hex        = flag.Bool("hex", false, "вывести кадр в hex")
		timeout    = flag.Duration("timeout", 30*time.Second, "предельное время команды")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if *dataPath != "" {
		cfg.Storage.Path = *dataPath
	}
	if cfg.Storage.Path == "" {
		log.Fatalf("❌ Не задан каталог данных (-data или storage.path)")
	}

	opts := logging.DefaultOptions()
	opts.Level = logging.WARN
	logging.Configure(opts)

	ws, err := storage.NewWorldStorage(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("❌ Failed to open storage: %v", err)
	}
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *command {
	case "list":
		err = listChunks(ctx, ws)
	case "dump":
		err = dumpChunk(ctx, cfg, ws, vec.Vec3{X: *x, Y: *y, Z: *z}, *hex)
	case "stats":
		err = showStats(ctx, ws)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

func listChunks(ctx context.Context, ws *storage.WorldStorage) error {
	positions, err := ws.List(ctx)
	if err != nil {
		return err
	}
	sortPositions(positions)

	for _, pos := range positions {
		fmt.Println(storage.ChunkKey(pos))
	}
	fmt.Printf("📦 Чанков: %d\n", len(positions))
	return nil
}

func showStats(ctx context.Context, ws *storage.WorldStorage) error {
	positions, err := ws.List(ctx)
	if err != nil {
		return err
	}

	var total, largest int
	byCompression := make(map[string]int)
	for _, pos := range positions {
		frame, found, err := ws.Load(ctx, pos)
		if err != nil {
			return err
		}
		if !found || len(frame) == 0 {
			continue
		}
		total += len(frame)
		largest = max(largest, len(frame))
		byCompression[protocol.Compression(frame[0]).String()]++
	}

	fmt.Printf("📊 Storage: %s\n", ws.Path())
	fmt.Printf("   Chunks:  %d\n", len(positions))
	fmt.Printf("   Bytes:   %d\n", total)
	if len(positions) > 0 {
		fmt.Printf("   Average: %d\n", total/len(positions))
	}
	fmt.Printf("   Largest: %d\n", largest)
	for name, n := range byCompression {
		fmt.Printf("   %-8s %d\n", name+":", n)
	}
	return nil
}

func dumpChunk(ctx context.Context, cfg *config.Config, ws *storage.WorldStorage, pos vec.Vec3, hex bool) error {
	reg, err := block.LoadRegistry(cfg.Blocks.Dir)
	if err != nil {
		return fmt.Errorf("реестр блоков: %w", err)
	}

	frame, found, err := ws.Load(ctx, pos)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("чанк %v не найден", pos)
	}

	serializer, err := protocol.NewChunkSerializer(protocol.CompressionNone, cfg.World.ChunkSide, cfg.World.Padding)
	if err != nil {
		return err
	}
	defer serializer.Close()

	store := world.NewChunkStore(cfg.World.ChunkSide, cfg.World.Padding, reg)
	store.Pos = pos
	if err := serializer.DecodeChunk(store, frame); err != nil {
		if hex {
			fmt.Println(logging.HexDump(frame))
		}
		return err
	}

	counts := make(map[uint16]int)
	side := store.Side()
	for yy := 0; yy < side; yy++ {
		for zz := 0; zz < side; zz++ {
			for xx := 0; xx < side; xx++ {
				if d := store.GetAt(xx, yy, zz); !d.IsAir() {
					counts[d.Type()]++
				}
			}
		}
	}
	boxes := world.NewBoxCompressor(pool.NewLocalPools(0)).Compress(store)

	fmt.Printf("🧱 Чанк %v (%s)\n", pos, storage.ChunkKey(pos))
	fmt.Printf("   Frame:    %d bytes, %s\n", len(frame), protocol.Compression(frame[0]))
	fmt.Printf("   NonEmpty: %d of %d\n", store.NonEmpty(), side*side*side)
	fmt.Printf("   Boxes:    %d\n", len(boxes))

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "   ID\tNAME\tCOUNT")
	for _, id := range ids {
		name := "?"
		if id < reg.Len() {
			name = reg.Type(uint16(id)).Name
		}
		fmt.Fprintf(tw, "   %d\t%s\t%d\n", id, name, counts[uint16(id)])
	}
	_ = tw.Flush()

	if hex {
		fmt.Println(logging.HexDump(frame))
	}
	return nil
}

func sortPositions(ps []vec.Vec3) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
