package rating

import "testing"

func TestUpdateEloEqualRatings(t *testing.T) {
	res := UpdateElo(1500, 1500, false)
	if res.Winner.Delta != 16 {
		t.Errorf("winner delta = %d, want 16", res.Winner.Delta)
	}
	if res.Loser.Delta != -16 {
		t.Errorf("loser delta = %d, want -16", res.Loser.Delta)
	}
	if res.Winner.New != 1516 || res.Loser.New != 1484 {
		t.Errorf("new ratings = %d/%d, want 1516/1484", res.Winner.New, res.Loser.New)
	}
}

func TestUpdateEloTieLeavesRatingsUnchanged(t *testing.T) {
	res := UpdateElo(1600, 1400, true)
	if res.Winner.Delta != 0 || res.Loser.Delta != 0 {
		t.Errorf("tie must produce zero delta, got winner=%d loser=%d", res.Winner.Delta, res.Loser.Delta)
	}
	if res.Winner.New != 1600 || res.Loser.New != 1400 {
		t.Errorf("tie must leave ratings unchanged, got %d/%d", res.Winner.New, res.Loser.New)
	}
}

func TestUpdateEloUnderdogWinGainsMore(t *testing.T) {
	upsetWinner := UpdateElo(1400, 1600, false)
	favoriteWinner := UpdateElo(1600, 1400, false)

	if upsetWinner.Winner.Delta <= favoriteWinner.Winner.Delta {
		t.Errorf("an underdog win should gain more rating than a favorite win: underdog=%d favorite=%d",
			upsetWinner.Winner.Delta, favoriteWinner.Winner.Delta)
	}
}

func TestUpdateEloDeterministic(t *testing.T) {
	a := UpdateElo(1500, 1450, false)
	b := UpdateElo(1500, 1450, false)
	if a != b {
		t.Errorf("UpdateElo must be deterministic, got %+v and %+v", a, b)
	}
}

func TestUpdateEloSymmetricMagnitude(t *testing.T) {
	res := UpdateElo(1520, 1480, false)
	if res.Winner.Delta != -res.Loser.Delta {
		t.Errorf("winner and loser deltas should be equal magnitude opposite sign, got winner=%d loser=%d",
			res.Winner.Delta, res.Loser.Delta)
	}
}
