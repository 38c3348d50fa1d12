// Package cli — команды инструмента trellis.
//
// Команды работы со спецификацией (validate, plan, run, kinds) читают
// YAML-файл и не требуют инфраструктуры; run при --simulate выполняет
// пайплайн на симулируемой платформе. Команды submit, pipelines, runs
// и schedule работают с БД и RabbitMQ.
//
// Коды выхода:
//
//	0 — успех
//	1 — инфраструктурная ошибка
//	2 — ошибка валидации спецификации
//	3 — ошибка графа зависимостей
//	4 — run завершился с FAILED
//	5 — run отменён
package cli
