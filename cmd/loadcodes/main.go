package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"GiftCodeKiosk/internal/config"
	"GiftCodeKiosk/internal/db"
	"GiftCodeKiosk/internal/store"
)

// loadcodes imports gift codes, one per line, into an inventory bucket:
//
//	loadcodes -card GiftCardX -region US -denom 50 codes.txt
func main() {
	card := flag.String("card", "", "card type")
	region := flag.String("region", "", "region code")
	denom := flag.Int64("denom", 0, "denomination")
	flag.Parse()

	if *card == "" || *region == "" || *denom <= 0 || flag.NArg() != 1 {
		log.Fatal("usage: loadcodes -card <card> -region <region> -denom <denom> <file>")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.DB.DSN == "" {
		log.Fatal("db.dsn is required to load codes")
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("open codes file failed: %v", err)
	}
	defer f.Close()

	var codes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			continue
		}
		codes = append(codes, code)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read codes file failed: %v", err)
	}
	if len(codes) == 0 {
		log.Fatal("no codes in file")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)
	if err := pg.AddCodes(ctx, *card, strings.ToUpper(*region), *denom, codes); err != nil {
		log.Fatalf("add codes failed: %v", err)
	}

	total, err := pg.CountCodes(ctx, *card, strings.ToUpper(*region), *denom)
	if err != nil {
		log.Fatalf("count codes failed: %v", err)
	}
	log.Printf("loaded %d codes, bucket %s/%s/%d now holds %d", len(codes), *card, strings.ToUpper(*region), *denom, total)
}
