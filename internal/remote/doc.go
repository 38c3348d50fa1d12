// Package remote — адаптер удалённого выполнения.
//
// Переводит абстрактный StepSpec в job-запрос управляемой платформы
// обучения, опрашивает статус и нормализует ошибки платформы
// в таксономию движка (transient/permanent).
//
// Всё сетевое взаимодействие изолировано здесь: планировщик
// никогда не обращается к внешнему сервису напрямую.
//
// Реализации:
//   - PlatformAdapter — HTTP-клиент реальной платформы
//   - SimAdapter      — in-process симуляция для тестов и trellis run --simulate
package remote
