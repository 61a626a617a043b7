package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// specParser — парсер расписаний: стандартный cron из пяти полей и дескрипторы.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec проверяет расписание задачи.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSpec, spec, err)
	}
	return nil
}
