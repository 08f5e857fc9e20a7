package broker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"automatic-succotash/internal/domain"
)

// PaperBroker simulates fills against a real market-data source. Equity
// orders fill at the limit price when set, otherwise at the last price.
// Option orders fill at the limit basis times the contract multiplier.
type PaperBroker struct {
	MarketData

	mu              sync.Mutex
	cash            float64
	equityPositions map[string]int
	optionPositions map[string]int
}

func NewPaperBroker(data MarketData, startingCash float64) *PaperBroker {
	return &PaperBroker{
		MarketData:      data,
		cash:            startingCash,
		equityPositions: map[string]int{},
		optionPositions: map[string]int{},
	}
}

func (b *PaperBroker) GetPortfolioSnapshot(_ context.Context) (domain.PortfolioSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := domain.PortfolioSnapshot{
		Cash:            b.cash,
		EquityPositions: make(map[string]int, len(b.equityPositions)),
		OptionPositions: make(map[string]int, len(b.optionPositions)),
	}
	for k, v := range b.equityPositions {
		snapshot.EquityPositions[k] = v
	}
	for k, v := range b.optionPositions {
		snapshot.OptionPositions[k] = v
	}
	return snapshot, nil
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, order domain.TradeOrder) (ExecutionResult, error) {
	if order.Quantity <= 0 {
		return ExecutionResult{
			Order:   order,
			Status:  StatusRejected,
			Message: "non-positive quantity",
		}, nil
	}

	fillPrice, err := b.fillPrice(ctx, order)
	if err != nil {
		return ExecutionResult{Order: order, Status: StatusRejected, Message: err.Error()}, nil
	}
	closing := order.Instruction == domain.InstructionSell || order.Instruction == domain.InstructionSellToClose
	if fillPrice <= 0 && !(closing && order.AssetType == domain.AssetOption) {
		return ExecutionResult{Order: order, Status: StatusRejected, Message: "no price available"}, nil
	}

	multiplier := 1.0
	positions := b.equityPositions
	if order.AssetType == domain.AssetOption {
		multiplier = 100.0
		positions = b.optionPositions
	}
	notional := float64(order.Quantity) * fillPrice * multiplier

	b.mu.Lock()
	defer b.mu.Unlock()

	switch order.Instruction {
	case domain.InstructionBuy, domain.InstructionBuyToOpen:
		if notional > b.cash {
			return ExecutionResult{Order: order, Status: StatusRejected, Message: "insufficient cash"}, nil
		}
		b.cash -= notional
		positions[order.Symbol] += order.Quantity
	case domain.InstructionSell, domain.InstructionSellToClose:
		held := positions[order.Symbol]
		if held < order.Quantity {
			return ExecutionResult{
				Order:   order,
				Status:  StatusRejected,
				Message: fmt.Sprintf("holding %d, cannot sell %d", held, order.Quantity),
			}, nil
		}
		b.cash += notional
		positions[order.Symbol] -= order.Quantity
		if positions[order.Symbol] == 0 {
			delete(positions, order.Symbol)
		}
	default:
		return ExecutionResult{Order: order, Status: StatusRejected, Message: "unknown instruction"}, nil
	}

	log.Printf("paper broker: %s %d %s @ %.2f", order.Instruction, order.Quantity, order.Symbol, fillPrice)
	return ExecutionResult{
		Order:     order,
		Status:    StatusFilled,
		FillPrice: fillPrice,
		Notional:  notional,
	}, nil
}

func (b *PaperBroker) fillPrice(ctx context.Context, order domain.TradeOrder) (float64, error) {
	if order.LimitPrice != nil && *order.LimitPrice > 0 {
		return *order.LimitPrice, nil
	}

	if order.AssetType == domain.AssetOption {
		// No quote source for a bare contract symbol; closes without a
		// limit clear the position at zero proceeds.
		return 0, nil
	}

	return b.GetLastPrice(ctx, order.Symbol)
}
