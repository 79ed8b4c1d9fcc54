package service

import (
	"context"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/repository"
)

// CreateGateway creates a gateway and returns its id.
func (s *Service) CreateGateway(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, s.finish(ctx, "CreateGateway", domain.InvalidRequest("gateway name is required"))
	}

	var id int64
	err := s.update(ctx, "CreateGateway", func(tx *repository.Tx) error {
		gw := domain.Gateway{Name: name}
		if err := tx.SaveGateway(&gw); err != nil {
			return err
		}
		id = gw.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListGateways returns every gateway.
func (s *Service) ListGateways(ctx context.Context) ([]domain.Gateway, error) {
	var out []domain.Gateway
	err := s.view(ctx, "ListGateways", func(tx *repository.Tx) error {
		var err error
		out, err = tx.FindAllGateways()
		return err
	})
	return out, err
}

// GetGateway returns the gateway with id or GatewayNotFound.
func (s *Service) GetGateway(ctx context.Context, id int64) (domain.Gateway, error) {
	var gw domain.Gateway
	err := s.view(ctx, "GetGateway", func(tx *repository.Tx) error {
		found, ok, err := tx.FindGateway(id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.GatewayNotFound(id)
		}
		gw = found
		return nil
	})
	return gw, err
}

// ListGatewaysWithSensorType returns the gateways with at least one connected
// sensor of the named type. An unknown type yields an empty list.
func (s *Service) ListGatewaysWithSensorType(ctx context.Context, typeName string) ([]domain.Gateway, error) {
	var out []domain.Gateway
	err := s.view(ctx, "ListGatewaysWithSensorType", func(tx *repository.Tx) error {
		var err error
		out, err = tx.FindGatewaysWithSensorType(typeName)
		return err
	})
	return out, err
}
