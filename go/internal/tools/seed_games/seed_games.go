package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/festtrivia/go/internal/backend"
	"github.com/mcdev12/festtrivia/go/internal/dbconfig"
)

// seed_games schedules lobby games for a question pack.
//
//	go run ./go/internal/tools/seed_games [pack.yaml] [games]
func main() {
	ctx := context.Background()

	// 1) Load the pack
	var (
		pack *backend.Pack
		err  error
	)
	if len(os.Args) > 1 && os.Args[1] != "" {
		pack, err = backend.LoadPack(os.Args[1])
	} else {
		pack, err = backend.DefaultPack()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load pack: %v\n", err)
		os.Exit(1)
	}

	games := 1
	if len(os.Args) > 2 {
		if games, err = strconv.Atoi(os.Args[2]); err != nil || games < 1 {
			fmt.Fprintf(os.Stderr, "invalid game count %q\n", os.Args[2])
			os.Exit(1)
		}
	}

	// 2) Connect using shared dbconfig
	pool, err := pgxpool.New(ctx, dbconfig.DSNFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert games and their questions
	var (
		inserted int
		skipped  int
		errs     int
	)

	for i := 0; i < games; i++ {
		gameID := uuid.New()
		if _, err := pool.Exec(ctx, `
            INSERT INTO game_state (id, status, current_question, countdown, updated_at)
            VALUES ($1, 'waiting', 0, $2, now())
        `, gameID, pack.LobbySec); err != nil {
			fmt.Fprintf(os.Stderr, "error inserting game %s: %v\n", gameID, err)
			errs++
			continue
		}

		for pos, q := range pack.Questions {
			options, err := json.Marshal(q.Options)
			if err != nil {
				fmt.Fprintf(os.Stderr, "marshal options of question %d: %v\n", pos+1, err)
				errs++
				continue
			}
			cmdTag, err := pool.Exec(ctx, `
                INSERT INTO questions (
                  id, game_id, position, text, options, correct_option, time_limit_sec
                ) VALUES ($1,$2,$3,$4,$5,$6,$7)
                ON CONFLICT (game_id, position) DO NOTHING
            `,
				uuid.New(), gameID, pos+1, q.Text, options, q.Correct, q.TimeLimitSec,
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error inserting question %d of game %s: %v\n", pos+1, gameID, err)
				errs++
				continue
			}
			if cmdTag.RowsAffected() == 1 {
				inserted++
			} else {
				skipped++
			}
		}
		fmt.Printf("Scheduled game %s (%s)\n", gameID, pack.Title)
	}

	// 4) Print summary
	fmt.Printf(
		"Games seed complete: %d games, %d questions inserted, %d skipped, %d errors\n",
		games, inserted, skipped, errs,
	)
}
