package database

import "errors"

var (
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrEmptyDataset      = errors.New("dataset holds no nodes")
	ErrCorruptDataset    = errors.New("dataset is corrupt")
	ErrUnsupportedSchema = errors.New("dataset schema is newer than this build")
)
