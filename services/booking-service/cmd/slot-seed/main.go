package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agenda-clinica/agenda/libs/config"
	"github.com/agenda-clinica/agenda/libs/db"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/availability"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

func main() {
	_ = config.LoadDotEnv()

	var (
		dbURL     = flag.String("database-url", config.String("DATABASE_URL", ""), "postgres connection string")
		serviceID = flag.Int64("service-id", int64(config.Int("SEED_SERVICE_ID", 0)), "service to open slots for")
		from      = flag.String("from", config.String("SEED_FROM", time.Now().Format(time.DateOnly)), "first day (YYYY-MM-DD)")
		days      = flag.Int("days", config.Int("SEED_DAYS", 30), "number of days to cover")
		hours     = flag.String("hours", config.String("SEED_HOURS", "08:00-18:00"), "opening hours (HH:MM-HH:MM)")
		breaks    = flag.String("breaks", config.String("SEED_BREAKS", "12:00-13:00"), "comma separated breaks (HH:MM-HH:MM)")
		weekdays  = flag.String("weekdays", config.String("SEED_WEEKDAYS", "1,2,3,4,5"), "comma separated weekdays, 0=Sunday; empty for every day")
		tz        = flag.String("tz", config.String("SEED_TZ", "America/Sao_Paulo"), "timezone the hours are expressed in")
		dryRun    = flag.Bool("dry-run", false, "print slots without writing")
	)
	flag.Parse()

	if strings.TrimSpace(*dbURL) == "" {
		fatal("DATABASE_URL is required")
	}
	if *serviceID <= 0 {
		fatal("SEED_SERVICE_ID is required")
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fatal(err.Error())
	}
	plan, err := buildPlan(*from, *days, *hours, *breaks, *weekdays, loc)
	if err != nil {
		fatal(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, *dbURL, db.Options{MaxConns: 2})
	if err != nil {
		fatal(err.Error())
	}
	defer pool.Close()

	svc, err := storage.NewCatalogRepository(pool).GetService(ctx, *serviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		fatal(fmt.Sprintf("service %d not found", *serviceID))
	}
	if err != nil {
		fatal(err.Error())
	}
	plan.Duration = time.Duration(svc.DurationMinutes) * time.Minute

	starts, err := plan.Starts(time.Now().In(loc))
	if err != nil {
		fatal(err.Error())
	}

	if *dryRun {
		for _, s := range starts {
			fmt.Println(s.Format("2006-01-02 15:04"))
		}
		fmt.Printf("service=%d planned=%d\n", svc.ID, len(starts))
		return
	}

	inserted, err := storage.NewSlotRepository(pool).InsertSlots(ctx, svc.ID, starts)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("service=%d planned=%d inserted=%d\n", svc.ID, len(starts), inserted)
}

func buildPlan(from string, days int, hours, breaks, weekdays string, loc *time.Location) (availability.Plan, error) {
	if days <= 0 {
		return availability.Plan{}, fmt.Errorf("days must be positive, got %d", days)
	}
	start, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(from), loc)
	if err != nil {
		return availability.Plan{}, fmt.Errorf("from: %w", err)
	}
	open, err := availability.ParseClockRange(strings.TrimSpace(hours))
	if err != nil {
		return availability.Plan{}, err
	}

	plan := availability.Plan{
		From:  start,
		To:    start.AddDate(0, 0, days-1),
		Hours: open,
	}
	for _, raw := range splitList(breaks) {
		b, err := availability.ParseClockRange(raw)
		if err != nil {
			return availability.Plan{}, err
		}
		plan.Breaks = append(plan.Breaks, b)
	}
	for _, raw := range splitList(weekdays) {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 6 {
			return availability.Plan{}, fmt.Errorf("weekday %q: want 0-6", raw)
		}
		plan.Weekdays = append(plan.Weekdays, time.Weekday(n))
	}
	return plan, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(msg string) {
	_, _ = os.Stderr.WriteString(msg + "\n")
	os.Exit(1)
}
