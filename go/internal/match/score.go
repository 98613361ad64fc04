package match

import "github.com/mcdev12/matchday/go/internal/models"

// gamesToWin is the number of game wins that decides a best-of-three.
const gamesToWin = 2

// ValidateScore checks a reported result against the match format. Game
// counts are from the reporter's point of view. Best-of-one only checks the
// result; best-of-three requires a first-to-two final score.
func ValidateScore(format models.MatchFormat, result models.MatchResult, gamesSelf, gamesOpponent int) error {
	if !result.Valid() {
		return &ValidationError{Format: format, Reason: "unknown result " + string(result)}
	}

	switch format {
	case models.MatchFormatBestOfOne:
		return nil
	case models.MatchFormatBestOfThree:
		return validateBestOfThree(result, gamesSelf, gamesOpponent)
	default:
		return &ValidationError{Format: format, Reason: "unknown match format"}
	}
}

func validateBestOfThree(result models.MatchResult, gamesSelf, gamesOpponent int) error {
	invalid := func(reason string) error {
		return &ValidationError{Format: models.MatchFormatBestOfThree, Reason: reason}
	}

	if gamesSelf < 0 || gamesSelf > gamesToWin || gamesOpponent < 0 || gamesOpponent > gamesToWin {
		return invalid("game counts must be between 0 and 2")
	}
	if gamesSelf == gamesToWin && gamesOpponent == gamesToWin {
		return invalid("both players cannot win two games")
	}

	switch result {
	case models.MatchResultDraw:
		return invalid("a best-of-three match cannot be reported as a draw")
	case models.MatchResultSelfWin:
		if gamesSelf != gamesToWin {
			return invalid("a win requires two games won")
		}
	case models.MatchResultOpponentWin:
		if gamesOpponent != gamesToWin {
			return invalid("a loss requires the opponent to have won two games")
		}
	}

	if total := gamesSelf + gamesOpponent; total < 2 || total > 3 {
		return invalid("a best-of-three match is two or three games")
	}
	return nil
}
