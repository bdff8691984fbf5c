package infrastructure

import (
	"encoding/json"

	"github.com/pkg/errors"
	"productstream/internal/service/productstream/domain"
)

// ToDomainStream 将数据库模型转换为领域模型
func ToDomainStream(model *ProductStreamModel) (*domain.ProductStream, error) {
	if model == nil {
		return nil, nil
	}
	conditions := domain.NewConditions()
	if model.Conditions != "" {
		if err := json.Unmarshal([]byte(model.Conditions), conditions); err != nil {
			return nil, errors.Wrapf(err, "decode conditions of product stream %d", model.ID)
		}
	}
	return &domain.ProductStream{
		StreamID:    model.ID,
		Name:        model.Name,
		Description: model.Description,
		Filters:     conditions,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}, nil
}

// FromDomainStream 将领域模型转换为数据库模型
func FromDomainStream(stream *domain.ProductStream) (*ProductStreamModel, error) {
	if stream == nil {
		return nil, nil
	}
	raw, err := json.Marshal(stream.Conditions())
	if err != nil {
		return nil, errors.Wrap(err, "encode conditions")
	}
	return &ProductStreamModel{
		ID:          stream.StreamID,
		Name:        stream.Name,
		Description: stream.Description,
		Conditions:  string(raw),
		CreatedAt:   stream.CreatedAt,
		UpdatedAt:   stream.UpdatedAt,
	}, nil
}
