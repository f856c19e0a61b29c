package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a pgx-backed Gateway implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool, verifies connectivity, and runs the
// idempotent schema migration.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	pg := &Postgres{pool: pool}
	if err := pg.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

// Close releases the connection pool.
func (pg *Postgres) Close() {
	pg.pool.Close()
}

func (pg *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			rating INTEGER NOT NULL DEFAULT 1500,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			connection_token TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS contests (
			id TEXT PRIMARY KEY,
			topic_ref TEXT NOT NULL,
			preset_id TEXT NOT NULL,
			pro_agent_id TEXT NOT NULL,
			con_agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_round_index INTEGER NOT NULL DEFAULT 0,
			round_status TEXT NOT NULL,
			winner TEXT NOT NULL DEFAULT 'none',
			stake_amount INTEGER NOT NULL DEFAULT 0,
			spectator_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			contest_id TEXT NOT NULL REFERENCES contests(id),
			round_index INTEGER NOT NULL,
			position TEXT NOT NULL,
			exchange_index INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (contest_id, round_index, position, exchange_index)
		);`,
		`CREATE TABLE IF NOT EXISTS round_outcomes (
			contest_id TEXT NOT NULL REFERENCES contests(id),
			round_index INTEGER NOT NULL,
			pro_votes INTEGER NOT NULL,
			con_votes INTEGER NOT NULL,
			winner TEXT NOT NULL,
			PRIMARY KEY (contest_id, round_index)
		);`,
		`CREATE TABLE IF NOT EXISTS votes (
			contest_id TEXT NOT NULL REFERENCES contests(id),
			round_index INTEGER NOT NULL,
			voter_id TEXT NOT NULL,
			choice TEXT NOT NULL,
			PRIMARY KEY (contest_id, round_index, voter_id)
		);`,
		`CREATE TABLE IF NOT EXISTS bets (
			id TEXT PRIMARY KEY,
			contest_id TEXT NOT NULL REFERENCES contests(id),
			bettor_id TEXT NOT NULL,
			side TEXT NOT NULL,
			amount INTEGER NOT NULL,
			settled BOOLEAN NOT NULL DEFAULT false,
			payout INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pg.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (pg *Postgres) CreateContest(ctx context.Context, c Contest) error {
	_, err := pg.pool.Exec(ctx, `
		INSERT INTO contests (id, topic_ref, preset_id, pro_agent_id, con_agent_id, status,
			current_round_index, round_status, winner, stake_amount, spectator_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.ID, c.TopicRef, c.PresetID, c.ProAgentID, c.ConAgentID, c.Status,
		c.CurrentRoundIndex, c.RoundStatus, SideNone, c.StakeAmount, c.SpectatorCount)
	if err != nil {
		return fmt.Errorf("store: create contest: %w", err)
	}
	return nil
}

func (pg *Postgres) UpdateContestStatus(ctx context.Context, contestID string, expected, next ContestStatus) error {
	var startedAt any
	if next == ContestInProgress {
		startedAt = time.Now()
		tag, err := pg.pool.Exec(ctx, `
			UPDATE contests SET status = $1, started_at = $2 WHERE id = $3 AND status = $4
		`, next, startedAt, contestID, expected)
		if err != nil {
			return fmt.Errorf("store: update contest status: %w", err)
		}
		return fenceResult(tag.RowsAffected())
	}
	tag, err := pg.pool.Exec(ctx, `
		UPDATE contests SET status = $1 WHERE id = $2 AND status = $3
	`, next, contestID, expected)
	if err != nil {
		return fmt.Errorf("store: update contest status: %w", err)
	}
	return fenceResult(tag.RowsAffected())
}

func (pg *Postgres) AdvanceRound(ctx context.Context, contestID string, roundIndex int, expectedRoundStatus, nextRoundStatus RoundStatus) error {
	tag, err := pg.pool.Exec(ctx, `
		UPDATE contests SET current_round_index = $1, round_status = $2
		WHERE id = $3 AND round_status = $4
	`, roundIndex, nextRoundStatus, contestID, expectedRoundStatus)
	if err != nil {
		return fmt.Errorf("store: advance round: %w", err)
	}
	return fenceResult(tag.RowsAffected())
}

func (pg *Postgres) CompleteContest(ctx context.Context, contestID string, winner Side, endedAt time.Time) error {
	tag, err := pg.pool.Exec(ctx, `
		UPDATE contests SET status = $1, winner = $2, ended_at = $3
		WHERE id = $4 AND status = $5
	`, ContestCompleted, winner, endedAt, contestID, ContestInProgress)
	if err != nil {
		return fmt.Errorf("store: complete contest: %w", err)
	}
	return fenceResult(tag.RowsAffected())
}

func (pg *Postgres) CancelContest(ctx context.Context, contestID string, expected ContestStatus) error {
	tag, err := pg.pool.Exec(ctx, `
		UPDATE contests SET status = $1, ended_at = now() WHERE id = $2 AND status = $3
	`, ContestCancelled, contestID, expected)
	if err != nil {
		return fmt.Errorf("store: cancel contest: %w", err)
	}
	return fenceResult(tag.RowsAffected())
}

func (pg *Postgres) SetSpectatorCount(ctx context.Context, contestID string, count int) error {
	_, err := pg.pool.Exec(ctx, `UPDATE contests SET spectator_count = $1 WHERE id = $2`, count, contestID)
	if err != nil {
		return fmt.Errorf("store: set spectator count: %w", err)
	}
	return nil
}

func (pg *Postgres) AppendTurn(ctx context.Context, t Turn) error {
	_, err := pg.pool.Exec(ctx, `
		INSERT INTO turns (contest_id, round_index, position, exchange_index, agent_id, content)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, t.ContestID, t.RoundIndex, t.Position, t.ExchangeIndex, t.AgentID, t.Content)
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

func (pg *Postgres) FindTurn(ctx context.Context, contestID string, roundIndex int, position Side, exchangeIndex int) (Turn, bool, error) {
	var t Turn
	err := pg.pool.QueryRow(ctx, `
		SELECT contest_id, round_index, position, exchange_index, agent_id, content, created_at
		FROM turns WHERE contest_id = $1 AND round_index = $2 AND position = $3 AND exchange_index = $4
	`, contestID, roundIndex, position, exchangeIndex).Scan(
		&t.ContestID, &t.RoundIndex, &t.Position, &t.ExchangeIndex, &t.AgentID, &t.Content, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, false, nil
	}
	if err != nil {
		return Turn{}, false, fmt.Errorf("store: find turn: %w", err)
	}
	return t, true, nil
}

func (pg *Postgres) ListTurns(ctx context.Context, contestID string) ([]Turn, error) {
	rows, err := pg.pool.Query(ctx, `
		SELECT contest_id, round_index, position, exchange_index, agent_id, content, created_at
		FROM turns WHERE contest_id = $1 ORDER BY round_index, created_at
	`, contestID)
	if err != nil {
		return nil, fmt.Errorf("store: list turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ContestID, &t.RoundIndex, &t.Position, &t.ExchangeIndex, &t.AgentID, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (pg *Postgres) AppendRoundOutcome(ctx context.Context, o RoundOutcome) error {
	_, err := pg.pool.Exec(ctx, `
		INSERT INTO round_outcomes (contest_id, round_index, pro_votes, con_votes, winner)
		VALUES ($1,$2,$3,$4,$5)
	`, o.ContestID, o.RoundIndex, o.ProVotes, o.ConVotes, o.Winner)
	if err != nil {
		return fmt.Errorf("store: append round outcome: %w", err)
	}
	return nil
}

func (pg *Postgres) GetRoundOutcome(ctx context.Context, contestID string, roundIndex int) (RoundOutcome, bool, error) {
	var o RoundOutcome
	err := pg.pool.QueryRow(ctx, `
		SELECT contest_id, round_index, pro_votes, con_votes, winner
		FROM round_outcomes WHERE contest_id = $1 AND round_index = $2
	`, contestID, roundIndex).Scan(&o.ContestID, &o.RoundIndex, &o.ProVotes, &o.ConVotes, &o.Winner)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoundOutcome{}, false, nil
	}
	if err != nil {
		return RoundOutcome{}, false, fmt.Errorf("store: get round outcome: %w", err)
	}
	return o, true, nil
}

func (pg *Postgres) ListRoundOutcomes(ctx context.Context, contestID string) ([]RoundOutcome, error) {
	rows, err := pg.pool.Query(ctx, `
		SELECT contest_id, round_index, pro_votes, con_votes, winner
		FROM round_outcomes WHERE contest_id = $1 ORDER BY round_index
	`, contestID)
	if err != nil {
		return nil, fmt.Errorf("store: list round outcomes: %w", err)
	}
	defer rows.Close()

	var out []RoundOutcome
	for rows.Next() {
		var o RoundOutcome
		if err := rows.Scan(&o.ContestID, &o.RoundIndex, &o.ProVotes, &o.ConVotes, &o.Winner); err != nil {
			return nil, fmt.Errorf("store: scan round outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CastVote is idempotent on (contest, round, voter): ON CONFLICT DO
// NOTHING leaves the first-cast choice in place, and a follow-up read
// distinguishes a no-op same-choice resubmission from a rejected
// choice-change (spec §4.1).
func (pg *Postgres) CastVote(ctx context.Context, v Vote) (VoteResult, error) {
	tag, err := pg.pool.Exec(ctx, `
		INSERT INTO votes (contest_id, round_index, voter_id, choice)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (contest_id, round_index, voter_id) DO NOTHING
	`, v.ContestID, v.RoundIndex, v.VoterID, v.Choice)
	if err != nil {
		return 0, fmt.Errorf("store: cast vote: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return VoteRecorded, nil
	}

	var existing Side
	err = pg.pool.QueryRow(ctx, `
		SELECT choice FROM votes WHERE contest_id = $1 AND round_index = $2 AND voter_id = $3
	`, v.ContestID, v.RoundIndex, v.VoterID).Scan(&existing)
	if err != nil {
		return 0, fmt.Errorf("store: read existing vote: %w", err)
	}
	if existing == v.Choice {
		return VoteAlreadyCastSameChoice, nil
	}
	return VoteAlreadyCastDifferentChoice, nil
}

func (pg *Postgres) TallyRoundVotes(ctx context.Context, contestID string, roundIndex int) (int, int, error) {
	var pro, con int
	err := pg.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE choice = 'pro'),
			COUNT(*) FILTER (WHERE choice = 'con')
		FROM votes WHERE contest_id = $1 AND round_index = $2
	`, contestID, roundIndex).Scan(&pro, &con)
	if err != nil {
		return 0, 0, fmt.Errorf("store: tally round votes: %w", err)
	}
	return pro, con, nil
}

func (pg *Postgres) FindContest(ctx context.Context, contestID string) (Contest, bool, error) {
	c, err := pg.scanContestRow(pg.pool.QueryRow(ctx, contestSelectColumns+` FROM contests WHERE id = $1`, contestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contest{}, false, nil
	}
	if err != nil {
		return Contest{}, false, fmt.Errorf("store: find contest: %w", err)
	}
	return c, true, nil
}

func (pg *Postgres) ListRecentContests(ctx context.Context, limit int) ([]Contest, error) {
	rows, err := pg.pool.Query(ctx, contestSelectColumns+` FROM contests ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent contests: %w", err)
	}
	defer rows.Close()
	return pg.scanContestRows(rows)
}

func (pg *Postgres) ListInProgressContests(ctx context.Context) ([]Contest, error) {
	rows, err := pg.pool.Query(ctx, contestSelectColumns+` FROM contests WHERE status = $1`, ContestInProgress)
	if err != nil {
		return nil, fmt.Errorf("store: list in-progress contests: %w", err)
	}
	defer rows.Close()
	return pg.scanContestRows(rows)
}

const contestSelectColumns = `
	SELECT id, topic_ref, preset_id, pro_agent_id, con_agent_id, status,
		current_round_index, round_status, winner, stake_amount, spectator_count,
		created_at, started_at, ended_at`

func (pg *Postgres) scanContestRow(row pgx.Row) (Contest, error) {
	var c Contest
	err := row.Scan(&c.ID, &c.TopicRef, &c.PresetID, &c.ProAgentID, &c.ConAgentID, &c.Status,
		&c.CurrentRoundIndex, &c.RoundStatus, &c.Winner, &c.StakeAmount, &c.SpectatorCount,
		&c.CreatedAt, &c.StartedAt, &c.EndedAt)
	return c, err
}

func (pg *Postgres) scanContestRows(rows pgx.Rows) ([]Contest, error) {
	var out []Contest
	for rows.Next() {
		c, err := pg.scanContestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan contest: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (pg *Postgres) GetAgent(ctx context.Context, agentID string) (Agent, bool, error) {
	var a Agent
	err := pg.pool.QueryRow(ctx, `
		SELECT id, owner_id, display_name, rating, wins, losses, active, connection_token
		FROM agents WHERE id = $1
	`, agentID).Scan(&a.ID, &a.OwnerID, &a.DisplayName, &a.Rating, &a.Wins, &a.Losses, &a.Active, &a.ConnectionToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, fmt.Errorf("store: get agent: %w", err)
	}
	return a, true, nil
}

func (pg *Postgres) FindAgentByToken(ctx context.Context, token string) (Agent, bool, error) {
	var a Agent
	err := pg.pool.QueryRow(ctx, `
		SELECT id, owner_id, display_name, rating, wins, losses, active, connection_token
		FROM agents WHERE connection_token = $1
	`, token).Scan(&a.ID, &a.OwnerID, &a.DisplayName, &a.Rating, &a.Wins, &a.Losses, &a.Active, &a.ConnectionToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, fmt.Errorf("store: find agent by token: %w", err)
	}
	return a, true, nil
}

func (pg *Postgres) UpdateAgentRating(ctx context.Context, agentID string, newRating int, won bool) error {
	column := "losses"
	if won {
		column = "wins"
	}
	_, err := pg.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE agents SET rating = $1, %s = %s + 1 WHERE id = $2
	`, column, column), newRating, agentID)
	if err != nil {
		return fmt.Errorf("store: update agent rating: %w", err)
	}
	return nil
}

func (pg *Postgres) CreateBet(ctx context.Context, b Bet) (Bet, error) {
	b.ID = uuid.New().String()
	_, err := pg.pool.Exec(ctx, `
		INSERT INTO bets (id, contest_id, bettor_id, side, amount, settled, payout)
		VALUES ($1,$2,$3,$4,$5,false,0)
	`, b.ID, b.ContestID, b.BettorID, b.Side, b.Amount)
	if err != nil {
		return Bet{}, fmt.Errorf("store: create bet: %w", err)
	}
	return b, nil
}

func (pg *Postgres) ListBetsForContest(ctx context.Context, contestID string) ([]Bet, error) {
	rows, err := pg.pool.Query(ctx, `
		SELECT id, contest_id, bettor_id, side, amount, settled, payout
		FROM bets WHERE contest_id = $1
	`, contestID)
	if err != nil {
		return nil, fmt.Errorf("store: list bets: %w", err)
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		if err := rows.Scan(&b.ID, &b.ContestID, &b.BettorID, &b.Side, &b.Amount, &b.Settled, &b.Payout); err != nil {
			return nil, fmt.Errorf("store: scan bet: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (pg *Postgres) SettleBet(ctx context.Context, betID string, payout int) error {
	_, err := pg.pool.Exec(ctx, `UPDATE bets SET settled = true, payout = $1 WHERE id = $2`, payout, betID)
	if err != nil {
		return fmt.Errorf("store: settle bet: %w", err)
	}
	return nil
}

func fenceResult(rowsAffected int64) error {
	if rowsAffected == 0 {
		return ErrStatusMismatch
	}
	return nil
}
