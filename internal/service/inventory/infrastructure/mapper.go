package infrastructure

import "monat/internal/service/inventory/domain"

func toDomainInventory(m *InventoryModel) *domain.Inventory {
	return &domain.Inventory{
		ProductID:         m.ProductID,
		ProductName:       m.ProductName,
		AvailableQuantity: m.AvailableQuantity,
		ReservedQuantity:  m.ReservedQuantity,
		TotalQuantity:     m.TotalQuantity,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:            m.ID,
		ReservationID: m.ReservationID,
		OrderID:       m.OrderID,
		ProductID:     m.ProductID,
		Quantity:      m.Quantity,
		Status:        domain.ReservationStatus(m.Status),
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toReservationModel(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:            r.ID,
		ReservationID: r.ReservationID,
		OrderID:       r.OrderID,
		ProductID:     r.ProductID,
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
