package ledger

import (
	"encoding/json"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"contribapp/models"
)

const DefaultReward = 50

// BuildPayload flattens a stored post and its consolidated activity log into the
// ledger payload. The miner address is sent in checksummed form.
func BuildPayload(post *models.Post, activityLog *models.ConsolidatedActivityLog, reward float64) (models.ContributionPayload, error) {
	if !ethcommon.IsHexAddress(post.WalletAddress) {
		return models.ContributionPayload{}, fmt.Errorf("invalid wallet address %q", post.WalletAddress)
	}
	logJSON, err := json.Marshal(activityLog)
	if err != nil {
		return models.ContributionPayload{}, fmt.Errorf("failed to marshal activity log: %w", err)
	}
	return models.ContributionPayload{
		MinerAddress: ethcommon.HexToAddress(post.WalletAddress).Hex(),
		Contribution: Summary(post, logJSON),
		Reward:       reward,
	}, nil
}

// Summary is the textual contribution recorded by the ledger.
func Summary(post *models.Post, activityLogJSON []byte) string {
	return fmt.Sprintf("Title: %s, Category: %s, Description: %s, Location: %s, ActivityLog: %s",
		post.Title, post.Category, post.Description, post.Location, activityLogJSON)
}
