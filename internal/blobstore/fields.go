package blobstore

import "go.uber.org/zap"

// ArgsToFields converts a flat key/value variadic list (as accepted by
// logx.Logger) into zap.Field values for the leaf adapters that log directly
// through *zap.Logger. A trailing unpaired key is logged under "extra".
func ArgsToFields(args ...any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	if len(args)%2 == 1 {
		fields = append(fields, zap.Any("extra", args[len(args)-1]))
	}
	return fields
}
