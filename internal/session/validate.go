package session

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	MaxUserNameLength  = 64
	MaxGroupNameLength = 64
	MaxFileNameLength  = 255
)

var validate = validator.New()

type registerInput struct {
	UserName string `validate:"required,max=64"`
}

type joinGroupInput struct {
	Group string `validate:"required,max=64"`
}

type shareFileInput struct {
	FileName string `validate:"required,max=255,excludesall=/\\"`
}

func validUserName(name string) (string, error) {
	in := registerInput{UserName: strings.TrimSpace(name)}
	if err := validate.Struct(in); err != nil {
		return "", errors.Wrap(ErrInvalidName, err.Error())
	}
	return in.UserName, nil
}

func validGroupName(name string) (string, error) {
	in := joinGroupInput{Group: strings.TrimSpace(name)}
	if err := validate.Struct(in); err != nil {
		return "", errors.Wrap(ErrInvalidGroup, err.Error())
	}
	return in.Group, nil
}

func validFileName(name string) error {
	if err := validate.Struct(shareFileInput{FileName: name}); err != nil {
		return errors.Wrap(ErrInvalidFile, err.Error())
	}
	return nil
}
