package assistant

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"SonicPilot/internal/wizard"
)

const holdingsLimit = 50

func (s *Service) env(ctx context.Context, flow wizard.FlowID, id Identity) wizard.Env {
	env := wizard.Env{
		UserID:   id.UserID,
		UserName: id.UserName,
		WalletID: id.WalletID,
		Catalog:  s.directory,
	}
	if flow == wizard.FlowSell {
		env.Holdings = s.holdings(ctx, id)
	}
	return env
}

// holdings 以用户发行过的代币作为可卖出持仓，配置了节点时以链上余额为准。
func (s *Service) holdings(ctx context.Context, id Identity) []wizard.Holding {
	if s.tokens == nil || id.UserID == "" {
		return nil
	}
	records, err := s.tokens.ListByUser(ctx, id.UserID, holdingsLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "读取发行记录失败", slog.String("user_id", id.UserID), slog.Any("error", err))
		return nil
	}

	onChain := s.balances != nil && common.IsHexAddress(id.WalletID)
	seen := make(map[string]bool, len(records))
	holdings := make([]wizard.Holding, 0, len(records))
	for _, record := range records {
		if !common.IsHexAddress(record.ContractAddress) {
			continue
		}
		token := common.HexToAddress(record.ContractAddress)
		if seen[token.Hex()] {
			continue
		}
		seen[token.Hex()] = true

		balance := record.TokensReceived
		if onChain {
			live, err := s.balances.TokenBalance(ctx, token, common.HexToAddress(id.WalletID))
			if err != nil {
				s.logger.WarnContext(ctx, "读取链上余额失败，使用发行记录",
					slog.String("token", token.Hex()), slog.Any("error", err))
			} else {
				balance = live
			}
		}
		holdings = append(holdings, wizard.Holding{
			TokenID: strconv.FormatInt(record.ID, 10),
			Name:    record.Name,
			Symbol:  record.Symbol,
			Address: token.Hex(),
			Balance: balance,
		})
	}
	return holdings
}
